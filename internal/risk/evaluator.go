// Package risk scores SQL statements along five additive axes and
// decides whether a statement needs user confirmation before execution.
// It is a heuristic gate: the SQL is matched with regexes, never parsed
// or executed.
package risk

import (
	"regexp"
	"sort"
	"strings"
)

// Level is the assessed risk bucket. The strings are surfaced verbatim
// in confirmation events.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Context carries optional schema knowledge that sharpens the
// assessment. Zero values are fine; the axes that read them simply
// contribute nothing.
type Context struct {
	// TableRows maps table name to known row count.
	TableRows map[string]int64
	// ForeignKeys maps table name to tables referencing it.
	ForeignKeys map[string][]string
}

// Assessment is the result of evaluating one SQL statement.
type Assessment struct {
	Level                Level    `json:"level"`
	Score                int      `json:"score"`
	Reasons              []string `json:"reasons"`
	Recommendations      []string `json:"recommendations"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	EstimatedImpact      string   `json:"estimated_impact"`
	AffectedTables       []string `json:"affected_tables"`
	OperationType        string   `json:"operation_type"`
}

// Operation base weights, scaled to the 0-100 score range.
var operationWeights = map[string]int{
	"SELECT":   10,
	"INSERT":   20,
	"CREATE":   25,
	"UPDATE":   30,
	"DELETE":   40,
	"ALTER":    45,
	"TRUNCATE": 48,
	"DROP":     50,
}

const unknownOperationWeight = 20

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\s+TABLE\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\s+TABLE\b`),
	regexp.MustCompile(`(?i)\bALTER\s+TABLE\s+.*?\bDROP\b`),
	regexp.MustCompile(`(?i)\bDROP\s+DATABASE\b`),
	regexp.MustCompile(`(?i)\bDROP\s+SCHEMA\b`),
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)'.*?OR.*?'.*?'`),
	regexp.MustCompile(`(?i)'.*?UNION.*?SELECT`),
	regexp.MustCompile(`(?i)'.*?;.*?--`),
	regexp.MustCompile(`(?i)'.*?;.*?DROP`),
}

var tablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)FROM\s+(\w+)`),
	regexp.MustCompile(`(?i)JOIN\s+(\w+)`),
	regexp.MustCompile(`(?i)UPDATE\s+(\w+)`),
	regexp.MustCompile(`(?i)INSERT\s+INTO\s+(\w+)`),
	regexp.MustCompile(`(?i)DELETE\s+FROM\s+(\w+)`),
	regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(\w+)`),
	regexp.MustCompile(`(?i)ALTER\s+TABLE\s+(\w+)`),
	regexp.MustCompile(`(?i)DROP\s+TABLE\s+(\w+)`),
	regexp.MustCompile(`(?i)TRUNCATE\s+TABLE\s+(\w+)`),
}

var joinPattern = regexp.MustCompile(`(?i)\bJOIN\b`)

const largeTableThreshold = 1_000_000

// Evaluate scores one SQL statement. rctx may be nil.
func Evaluate(sql string, rctx *Context) Assessment {
	clean := strings.TrimSpace(sql)
	upper := strings.ToUpper(clean)
	if rctx == nil {
		rctx = &Context{}
	}

	op := operationType(upper)
	tables := extractTables(clean)
	hasWhere := strings.Contains(upper, "WHERE")

	var score int
	var reasons []string

	// Operation type.
	weight, ok := operationWeights[op]
	if !ok {
		weight = unknownOperationWeight
	}
	score += weight

	for _, pat := range dangerousPatterns {
		if pat.MatchString(clean) {
			score += 30
			reasons = append(reasons, "dangerous operation pattern detected: "+pat.String())
		}
	}
	switch op {
	case "DROP", "TRUNCATE":
		reasons = append(reasons, "high-risk operation: data may be permanently lost")
	case "DELETE", "UPDATE":
		if !hasWhere {
			score += 25
			reasons = append(reasons, "no WHERE clause: every row may be affected")
		}
	}

	// Scope.
	if len(tables) > 3 {
		score += 15
		reasons = append(reasons, "multiple tables involved: operation complexity is elevated")
	}
	for _, table := range tables {
		if rctx.TableRows[table] > largeTableThreshold {
			score += 20
			reasons = append(reasons, "large table operation ("+table+"): may impact performance")
		}
	}

	// Integrity.
	if strings.Contains(upper, "DELETE") || strings.Contains(upper, "UPDATE") {
		if hasForeignKeys(rctx, tables) {
			score += 10
			reasons = append(reasons, "foreign key relationships may be affected")
		}
	}

	// Performance.
	fullScan := false
	if !hasWhere && strings.Contains(upper, "SELECT") {
		score += 15
		fullScan = true
		reasons = append(reasons, "may cause a full table scan")
	}
	joins := len(joinPattern.FindAllString(clean, -1))
	if joins > 2 {
		score += joins * 5
		reasons = append(reasons, "complex JOIN operation: may impact performance")
	}

	// Security. First matching injection pattern only.
	for _, pat := range injectionPatterns {
		if pat.MatchString(clean) {
			score += 40
			reasons = append(reasons, "potential SQL injection pattern detected")
			break
		}
	}

	if score > 100 {
		score = 100
	}
	level := levelFor(score)

	return Assessment{
		Level:                level,
		Score:                score,
		Reasons:              reasons,
		Recommendations:      recommendations(op, level, fullScan, hasWhere),
		RequiresConfirmation: requiresConfirmation(level, op, hasWhere),
		EstimatedImpact:      estimatedImpact(op, hasWhere),
		AffectedTables:       tables,
		OperationType:        op,
	}
}

func operationType(upperSQL string) string {
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP", "TRUNCATE"} {
		if strings.HasPrefix(upperSQL, op) {
			return op
		}
	}
	return "UNKNOWN"
}

func extractTables(sql string) []string {
	seen := make(map[string]bool)
	for _, pat := range tablePatterns {
		for _, m := range pat.FindAllStringSubmatch(sql, -1) {
			seen[m[1]] = true
		}
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func hasForeignKeys(rctx *Context, tables []string) bool {
	for _, t := range tables {
		if len(rctx.ForeignKeys[t]) > 0 {
			return true
		}
	}
	return false
}

func levelFor(score int) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

func requiresConfirmation(level Level, op string, hasWhere bool) bool {
	if level == LevelHigh || level == LevelCritical {
		return true
	}
	switch op {
	case "DROP", "TRUNCATE", "ALTER":
		return true
	case "UPDATE", "DELETE":
		if !hasWhere {
			return true
		}
	}
	return false
}

func estimatedImpact(op string, hasWhere bool) string {
	switch op {
	case "DROP", "TRUNCATE":
		return "high"
	case "DELETE", "UPDATE":
		if !hasWhere {
			return "high"
		}
		return "low"
	case "ALTER", "CREATE":
		return "medium"
	default:
		return "low"
	}
}

func recommendations(op string, level Level, fullScan, hasWhere bool) []string {
	var recs []string
	if level == LevelHigh || level == LevelCritical {
		recs = append(recs, "verify this operation in a test environment first")
	}
	if !hasWhere && (op == "UPDATE" || op == "DELETE") {
		recs = append(recs, "add a WHERE clause to limit the affected rows")
	}
	if op == "DROP" || op == "TRUNCATE" {
		recs = append(recs, "create a data backup before running this")
	}
	if fullScan {
		recs = append(recs, "add an index or a WHERE clause to avoid a full scan")
	}
	return recs
}
