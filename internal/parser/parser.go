package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexisbeaulieu97/sqlflow/internal/ast"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Parser is a recursive-descent parser over the SQLFlow DSL. Statement
// keywords are matched case-insensitively; SQL bodies and JSON parameter
// objects are captured as raw spans so their internals stay untouched.
type Parser struct {
	src  string
	path string
	lex  *lexer
	tok  token
}

// Parse parses pipeline source text. Includes are left unresolved.
func Parse(src, name string) (*ast.Pipeline, error) {
	p := &Parser{src: src, path: name, lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, sqlflowerrors.NewParseError(name, p.tok.Line, err)
	}

	steps, err := p.parseStatements(nil)
	if err != nil {
		return nil, sqlflowerrors.NewParseError(name, p.tok.Line, err)
	}
	if p.tok.Type != tokenEOF {
		return nil, sqlflowerrors.NewParseError(name, p.tok.Line, fmt.Errorf("unexpected %q", p.tok.Raw))
	}

	return &ast.Pipeline{Name: name, Steps: steps}, nil
}

// ParseFile parses a pipeline file from disk. Includes are left unresolved;
// use ResolveFile to expand them.
func ParseFile(path string) (*ast.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sqlflowerrors.NewParseError(path, 0, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pipe, err := Parse(string(data), name)
	if err != nil {
		if pe, ok := err.(*sqlflowerrors.ParseError); ok {
			pe.Path = path
		}
		return nil, err
	}
	return pipe, nil
}

func (p *Parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *Parser) keyword() string {
	if p.tok.Type != tokenIdent {
		return ""
	}
	return strings.ToUpper(p.tok.Text)
}

func (p *Parser) expectKeyword(kw string) error {
	if p.keyword() != kw {
		return fmt.Errorf("expected %s, got %q", kw, p.tok.Raw)
	}
	return p.advance()
}

func (p *Parser) expectIdent() (string, error) {
	if p.tok.Type != tokenIdent {
		return "", fmt.Errorf("expected identifier, got %q", p.tok.Raw)
	}
	name := p.tok.Text
	return name, p.advance()
}

func (p *Parser) expectString() (string, error) {
	if p.tok.Type != tokenString {
		return "", fmt.Errorf("expected string literal, got %q", p.tok.Raw)
	}
	value := p.tok.Text
	return value, p.advance()
}

func (p *Parser) expectSymbol(sym string) error {
	if p.tok.Type != tokenSymbol || p.tok.Text != sym {
		return fmt.Errorf("expected %q, got %q", sym, p.tok.Raw)
	}
	return p.advance()
}

// captureJSON consumes a balanced JSON object starting after the current
// lookahead position and refreshes the lookahead token past it.
func (p *Parser) captureJSON() (map[string]any, error) {
	raw, end, err := scanJSONObject(p.src, p.tok.Start)
	if err != nil {
		return nil, err
	}
	obj, err := decodeJSONObject(raw)
	if err != nil {
		return nil, err
	}
	p.lex.setPos(end)
	return obj, p.advance()
}

// captureRaw consumes a raw span from the current lookahead position until a
// stop word or the stop symbol, then refreshes the lookahead at the
// terminator.
func (p *Parser) captureRaw(stopWords []string, stopSymbol byte) (string, string, error) {
	raw, off, term, err := scanRawUntil(p.src, p.tok.Start, stopWords, stopSymbol)
	if err != nil {
		return "", "", err
	}
	p.lex.setPos(off)
	return raw, term, p.advance()
}

func (p *Parser) parseStatements(stop map[string]bool) ([]ast.Step, error) {
	var steps []ast.Step
	for {
		if p.tok.Type == tokenEOF {
			if len(stop) > 0 {
				return nil, fmt.Errorf("unexpected end of input")
			}
			return steps, nil
		}
		if stop[p.keyword()] {
			return steps, nil
		}
		step, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
}

func (p *Parser) parseStatement() (ast.Step, error) {
	line := p.tok.Line
	switch p.keyword() {
	case "SOURCE":
		return p.parseSource(line)
	case "LOAD":
		return p.parseLoad(line)
	case "CREATE":
		return p.parseCreate(line)
	case "EXPORT":
		return p.parseExport(line)
	case "SET":
		return p.parseSet(line)
	case "INCLUDE":
		return p.parseInclude(line)
	case "IF":
		return p.parseConditional(line)
	default:
		return nil, fmt.Errorf("unexpected statement %q", p.tok.Raw)
	}
}

func (p *Parser) parseSource(line int) (ast.Step, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	step := &ast.SourceDefinition{LineNo: line, Name: name}

	switch p.keyword() {
	case "TYPE":
		if err := p.advance(); err != nil {
			return nil, err
		}
		connType, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		step.ConnectorType = strings.ToLower(connType)
		if err := p.expectKeyword("PARAMS"); err != nil {
			return nil, err
		}
		params, err := p.captureJSON()
		if err != nil {
			return nil, err
		}
		step.Params = params
		if p.keyword() == "OPTIONS" {
			return nil, fmt.Errorf("SOURCE ... TYPE cannot carry OPTIONS")
		}
	case "FROM":
		if err := p.advance(); err != nil {
			return nil, err
		}
		profileConn, err := p.expectString()
		if err != nil {
			return nil, err
		}
		step.FromProfile = true
		step.ProfileConnector = profileConn
		if p.keyword() == "PARAMS" {
			return nil, fmt.Errorf("SOURCE ... FROM profile cannot carry PARAMS")
		}
		if p.keyword() == "OPTIONS" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			options, err := p.captureJSON()
			if err != nil {
				return nil, err
			}
			step.Options = options
		}
	default:
		return nil, fmt.Errorf("expected TYPE or FROM after SOURCE %s", name)
	}

	return step, p.expectSymbol(";")
}

func (p *Parser) parseLoad(line int) (ast.Step, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	source, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	step := &ast.Load{LineNo: line, TableName: table, SourceName: source}

	if p.keyword() == "MODE" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch p.keyword() {
		case "REPLACE":
			step.Mode = ast.ModeReplace
		case "APPEND":
			step.Mode = ast.ModeAppend
		case "UPSERT":
			step.Mode = ast.ModeUpsert
		default:
			return nil, fmt.Errorf("invalid LOAD mode %q", p.tok.Raw)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.keyword() == "KEY" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			keys, err := p.parseIdentList()
			if err != nil {
				return nil, err
			}
			step.UpsertKeys = keys
		}
	}

	return step, p.expectSymbol(";")
}

func (p *Parser) parseCreate(line int) (ast.Step, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}

	step := &ast.SQLBlock{LineNo: line}

	if p.keyword() == "OR" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("REPLACE"); err != nil {
			return nil, err
		}
		step.IsReplace = true
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	step.TableName = table

	// MODE is only a keyword in this position, between the table name and
	// AS. Inside the SELECT body a column named "mode" stays a column.
	if p.keyword() == "MODE" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.parseTransformMode(step); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	sql, _, err := p.captureRaw(nil, ';')
	if err != nil {
		return nil, err
	}
	if sql == "" {
		return nil, fmt.Errorf("empty SELECT body for table %s", table)
	}
	step.SQL = sql

	return step, p.expectSymbol(";")
}

func (p *Parser) parseTransformMode(step *ast.SQLBlock) error {
	switch p.keyword() {
	case "REPLACE":
		step.Mode = ast.ModeReplace
		return p.advance()
	case "APPEND":
		step.Mode = ast.ModeAppend
		return p.advance()
	case "MERGE":
		step.Mode = ast.ModeMerge
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectKeyword("KEY"); err != nil {
			return err
		}
		keys, err := p.parseIdentList()
		if err != nil {
			return err
		}
		step.MergeKeys = keys
		return nil
	case "INCREMENTAL":
		step.Mode = ast.ModeIncremental
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		column, err := p.expectIdent()
		if err != nil {
			return err
		}
		step.TimeColumn = column
		if p.keyword() == "LOOKBACK" {
			if err := p.advance(); err != nil {
				return err
			}
			lookback, err := p.parseDuration()
			if err != nil {
				return err
			}
			step.Lookback = lookback
		}
		return nil
	default:
		return fmt.Errorf("invalid materialization mode %q", p.tok.Raw)
	}
}

// parseDuration accepts "7 days", "30 minutes", or a bare literal like "24h".
func (p *Parser) parseDuration() (string, error) {
	switch p.tok.Type {
	case tokenNumber:
		amount := p.tok.Text
		if err := p.advance(); err != nil {
			return "", err
		}
		if p.tok.Type == tokenIdent && p.keyword() != "AS" {
			unit := p.tok.Text
			if err := p.advance(); err != nil {
				return "", err
			}
			return amount + " " + unit, nil
		}
		return amount, nil
	case tokenIdent:
		literal := p.tok.Text
		return literal, p.advance()
	case tokenString:
		literal := p.tok.Text
		return literal, p.advance()
	default:
		return "", fmt.Errorf("expected duration literal, got %q", p.tok.Raw)
	}
}

func (p *Parser) parseExport(line int) (ast.Step, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}

	sql, term, err := p.captureRaw([]string{"TO"}, ';')
	if err != nil {
		return nil, err
	}
	if term != "TO" {
		return nil, fmt.Errorf("EXPORT requires a TO destination")
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	uri, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TYPE"); err != nil {
		return nil, err
	}
	connType, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("OPTIONS"); err != nil {
		return nil, err
	}
	options, err := p.captureJSON()
	if err != nil {
		return nil, err
	}

	step := &ast.Export{
		LineNo:         line,
		SQL:            sql,
		DestinationURI: uri,
		ConnectorType:  strings.ToLower(connType),
		Options:        options,
	}
	return step, p.expectSymbol(";")
}

func (p *Parser) parseSet(line int) (ast.Step, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("="); err != nil {
		return nil, err
	}

	var value string
	switch p.tok.Type {
	case tokenString, tokenNumber, tokenVariable:
		value = p.tok.Text
	case tokenSymbol:
		if p.tok.Text != "-" {
			return nil, fmt.Errorf("invalid SET value %q", p.tok.Raw)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.Type != tokenNumber {
			return nil, fmt.Errorf("invalid SET value -%q", p.tok.Raw)
		}
		value = "-" + p.tok.Text
	default:
		return nil, fmt.Errorf("invalid SET value %q", p.tok.Raw)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	step := &ast.Set{LineNo: line, Name: name, Value: value}
	return step, p.expectSymbol(";")
}

func (p *Parser) parseInclude(line int) (ast.Step, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	path, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	alias, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	step := &ast.Include{LineNo: line, Path: path, Alias: alias}
	return step, p.expectSymbol(";")
}

var branchStops = map[string]bool{"ELSEIF": true, "ELSE": true, "END": true}

func (p *Parser) parseConditional(line int) (ast.Step, error) {
	block := &ast.ConditionalBlock{LineNo: line}

	// Consume IF and the first condition.
	if err := p.advance(); err != nil {
		return nil, err
	}
	for {
		cond, term, err := p.captureRaw([]string{"THEN"}, ';')
		if err != nil {
			return nil, err
		}
		if term != "THEN" {
			return nil, fmt.Errorf("IF condition missing THEN")
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		steps, err := p.parseStatements(branchStops)
		if err != nil {
			return nil, err
		}
		block.Branches = append(block.Branches, ast.Branch{Condition: cond, Steps: steps})

		switch p.keyword() {
		case "ELSEIF":
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		case "ELSE":
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.keyword() == "IF" {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			elseSteps, err := p.parseStatements(map[string]bool{"END": true})
			if err != nil {
				return nil, err
			}
			block.Else = elseSteps
			return block, p.parseEndIf()
		case "END":
			return block, p.parseEndIf()
		default:
			return nil, fmt.Errorf("unexpected %q in conditional block", p.tok.Raw)
		}
	}
}

func (p *Parser) parseEndIf() error {
	if err := p.expectKeyword("END"); err != nil {
		return err
	}
	if err := p.expectKeyword("IF"); err != nil {
		return err
	}
	return p.expectSymbol(";")
}

func (p *Parser) parseIdentList() ([]string, error) {
	parens := false
	if p.tok.Type == tokenSymbol && p.tok.Text == "(" {
		parens = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	var keys []string
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		keys = append(keys, name)
		if p.tok.Type == tokenSymbol && p.tok.Text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}

	if parens {
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
