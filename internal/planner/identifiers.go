package planner

import (
	"strings"
)

// sqlToken is one identifier-ish token of a SQL body with its predecessor
// keyword context.
type sqlToken struct {
	text  string
	upper string
}

// tokenizeSQL splits a SQL body into identifier and punctuation tokens,
// skipping string literals and line comments so table names inside them are
// never picked up.
func tokenizeSQL(sql string) []sqlToken {
	var tokens []sqlToken
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			quote := c
			i++
			for i < len(sql) {
				if sql[i] == '\\' && i+1 < len(sql) {
					i += 2
					continue
				}
				if sql[i] == quote {
					if i+1 < len(sql) && sql[i+1] == quote {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case isSQLIdentStart(c):
			start := i
			for i < len(sql) && isSQLIdentChar(sql[i]) {
				i++
			}
			text := sql[start:i]
			tokens = append(tokens, sqlToken{text: text, upper: strings.ToUpper(text)})
		case c == ',' || c == '(' || c == ')':
			tokens = append(tokens, sqlToken{text: string(c), upper: string(c)})
			i++
		default:
			i++
		}
	}
	return tokens
}

func isSQLIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSQLIdentChar(c byte) bool {
	return isSQLIdentStart(c) || (c >= '0' && c <= '9')
}

// referencedIdentifiers returns the distinct identifiers of a SQL body in
// order of appearance, excluding string literals and comments.
func referencedIdentifiers(sql string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, tok := range tokenizeSQL(sql) {
		if tok.text == "," || tok.text == "(" || tok.text == ")" {
			continue
		}
		key := strings.ToLower(tok.text)
		if !seen[key] {
			names = append(names, tok.text)
			seen[key] = true
		}
	}
	return names
}

// referencedTables returns identifiers appearing in table position: after
// FROM or a JOIN keyword, including comma-separated FROM lists. CTE names
// declared in a WITH clause are excluded.
func referencedTables(sql string) []string {
	tokens := tokenizeSQL(sql)

	ctes := make(map[string]bool)
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i].upper == "WITH" || (tokens[i].text == "," && i > 0 && tokens[i-1].text == ")") {
			next := tokens[i+1]
			if next.text != "," && next.text != "(" && next.text != ")" &&
				i+2 < len(tokens) && tokens[i+2].upper == "AS" {
				ctes[strings.ToLower(next.text)] = true
			}
		}
	}

	var tables []string
	seen := make(map[string]bool)
	add := func(name string) {
		key := strings.ToLower(name)
		if !seen[key] && !ctes[key] {
			tables = append(tables, name)
			seen[key] = true
		}
	}

	for i := 0; i < len(tokens); i++ {
		if tokens[i].upper != "FROM" && tokens[i].upper != "JOIN" {
			continue
		}
		j := i + 1
		for j < len(tokens) {
			if tokens[j].text == "(" {
				// Subquery; its own FROM is handled by the outer scan.
				break
			}
			if tokens[j].text == "," || tokens[j].text == ")" {
				break
			}
			add(tokens[j].text)
			// Skip an optional alias, then continue only through comma lists.
			j++
			if j < len(tokens) && tokens[j].text != "," && tokens[j].text != "(" && tokens[j].text != ")" &&
				!isSQLKeyword(tokens[j].upper) {
				j++
			}
			if j < len(tokens) && tokens[j].text == "," {
				j++
				continue
			}
			break
		}
	}
	return tables
}

var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "ORDER": true,
	"BY": true, "HAVING": true, "LIMIT": true, "OFFSET": true, "JOIN": true,
	"INNER": true, "LEFT": true, "RIGHT": true, "FULL": true, "OUTER": true,
	"CROSS": true, "ON": true, "USING": true, "AS": true, "AND": true,
	"OR": true, "NOT": true, "UNION": true, "ALL": true, "DISTINCT": true,
	"WITH": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"END": true, "IN": true, "EXISTS": true, "BETWEEN": true, "LIKE": true,
	"IS": true, "NULL": true, "ASC": true, "DESC": true, "WINDOW": true,
}

func isSQLKeyword(upper string) bool {
	return sqlKeywords[upper]
}
