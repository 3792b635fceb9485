package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser consumes the flat token slice produced by the Lexer and builds an AST.
//
// Grammar:
//
//	program        = (funcDef | declaration | structDef | enumDef)* EOF
//	funcDef        = typeSpec declarator "(" params ")" (block | ";")
//	declaration    = typeSpec initDecl ("," initDecl)* ";"
//	initDecl       = declarator ("=" (assign | initList))?
//	declarator     = "*"* IDENTIFIER ("[" INTEGER? "]")*
//	typeSpec       = (storage | qualifier | base)+
//	statement      = block | if | while | do | for | switch | return
//	               | break | continue | declaration | expr? ";"
//	expression     = assign ("," assign)*
//	assign         = ternary (assignOp assign)?
//	ternary        = logical_or ("?" expression ":" ternary)?
//	logical_or     = logical_and ("||" logical_and)*
//	logical_and    = bitwise_or ("&&" bitwise_or)*
//	bitwise_or     = bitwise_xor ("|" bitwise_xor)*
//	bitwise_xor    = bitwise_and ("^" bitwise_and)*
//	bitwise_and    = equality ("&" equality)*
//	equality       = relational (("=="|"!=") relational)*
//	relational     = shift (("<"|">"|"<="|">=") shift)*
//	shift          = additive (("<<"|">>") additive)*
//	additive       = multiplicative (("+" | "-") multiplicative)*
//	multiplicative = unary (("*" | "/" | "%") unary)*
//	unary          = ("-"|"+"|"!"|"~"|"&"|"*"|"++"|"--") unary
//	               | "sizeof" (unary | "(" typeName ")") | "(" typeName ")" unary | postfix
//	postfix        = primary ("[" expression "]" | "(" args ")" | "." IDENT | "->" IDENT | "++" | "--")*
//	primary        = INTEGER | FLOAT | STRING+ | IDENTIFIER | "(" expression ")"
type Parser struct {
	tokens      []Token
	pos         int
	sourceLines []string
	nextID      int
}

func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{tokens: tokens, sourceLines: strings.Split(rawSource, "\n")}
}

// fmtError wraps an error message with the source line where the token appears.
func (p *Parser) fmtError(tok Token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	lineIdx := tok.Line - 1 // Lines are 1-based

	snippet := "<source unavailable>"
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}

	return fmt.Errorf("line %d: %s\n  |> %s", tok.Line, msg, snippet)
}

// mk allocates the identity of a new node positioned at tok.
func (p *Parser) mk(tok Token) node {
	p.nextID++
	return node{id: NodeID(p.nextID), line: tok.Line}
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// peekAt returns the token at the given offset from the current position.
func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos+offset]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// accept consumes the current token if it is of type tt.
func (p *Parser) accept(tt TokenType) bool {
	if p.peek().Type != tt {
		return false
	}
	p.advance()
	return true
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.fmtError(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
	}
	return tok, nil
}

// isTypeStart reports whether tt can begin a declaration specifier.
func isTypeStart(tt TokenType) bool {
	switch tt {
	case INT, CHAR, SHORT, LONG, FLOAT_KW, DOUBLE, UNSIGNED, SIGNED, VOID,
		STRUCT, ENUM, CONST, VOLATILE, STATIC, EXTERN:
		return true
	}
	return false
}

//  Expressions

// parseExpression is the entry point for expression parsing, including the
// comma operator.
func (p *Parser) parseExpression() (Expr, error) {
	expr, err := p.parseAssign()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == COMMA {
		tok := p.advance()
		right, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		expr = &CommaExpr{node: p.mk(tok), Left: expr, Right: right}
	}
	return expr, nil
}

func isAssignOp(tt TokenType) bool {
	if tt == ASSIGN {
		return true
	}
	_, ok := compoundOps[tt]
	return ok
}

// parseAssign handles = and the compound assignments; they are right associative.
func (p *Parser) parseAssign() (Expr, error) {
	left, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if isAssignOp(p.peek().Type) {
		tok := p.advance()
		right, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return &AssignExpr{node: p.mk(tok), Op: tok.Type, Left: left, Right: right}, nil
	}
	return left, nil
}

// parseTernary handles cond ? a : b
func (p *Parser) parseTernary() (Expr, error) {
	cond, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != QUESTION {
		return cond, nil
	}
	tok := p.advance()
	then, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(COLON); err != nil {
		return nil, err
	}
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &TernaryExpr{node: p.mk(tok), Cond: cond, Then: then, Else: els}, nil
}

// parseLogicalOr handles ||
func (p *Parser) parseLogicalOr() (Expr, error) {
	expr, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == OR_LOGICAL {
		tok := p.advance()
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		expr = &LogicalExpr{node: p.mk(tok), Op: tok.Type, Left: expr, Right: right}
	}
	return expr, nil
}

// parseLogicalAnd handles &&
func (p *Parser) parseLogicalAnd() (Expr, error) {
	expr, err := p.parseBitwiseOr()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == AND_LOGICAL {
		tok := p.advance()
		right, err := p.parseBitwiseOr()
		if err != nil {
			return nil, err
		}
		expr = &LogicalExpr{node: p.mk(tok), Op: tok.Type, Left: expr, Right: right}
	}
	return expr, nil
}

// parseBinaryLevel parses one left-associative precedence level.
func (p *Parser) parseBinaryLevel(next func() (Expr, error), ops ...TokenType) (Expr, error) {
	expr, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tt := p.peek().Type
		matched := false
		for _, op := range ops {
			if tt == op {
				matched = true
				break
			}
		}
		if !matched {
			return expr, nil
		}
		tok := p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		expr = &BinaryExpr{node: p.mk(tok), Op: tok.Type, Left: expr, Right: right}
	}
}

// parseBitwiseOr handles | (lowest precedence among bitwise ops)
func (p *Parser) parseBitwiseOr() (Expr, error) {
	return p.parseBinaryLevel(p.parseBitwiseXor, PIPE)
}

// parseBitwiseXor handles ^
func (p *Parser) parseBitwiseXor() (Expr, error) {
	return p.parseBinaryLevel(p.parseBitwiseAnd, CARET)
}

// parseBitwiseAnd handles &
func (p *Parser) parseBitwiseAnd() (Expr, error) {
	return p.parseBinaryLevel(p.parseEquality, AND)
}

// parseEquality handles == and !=
func (p *Parser) parseEquality() (Expr, error) {
	return p.parseBinaryLevel(p.parseRelational, EQUALS, NOT_EQ)
}

// parseRelational handles < > <= >=
func (p *Parser) parseRelational() (Expr, error) {
	return p.parseBinaryLevel(p.parseShift, LESS, GREATER, LESS_EQ, GREATER_EQ)
}

// parseShift handles << and >>
func (p *Parser) parseShift() (Expr, error) {
	return p.parseBinaryLevel(p.parseAdditive, SHL_OP, SHR_OP)
}

// parseAdditive handles + and -
func (p *Parser) parseAdditive() (Expr, error) {
	return p.parseBinaryLevel(p.parseMultiplicative, PLUS, MINUS)
}

// parseMultiplicative handles * / %
func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.parseBinaryLevel(p.parseUnary, STAR, SLASH, PERCENT)
}

// isCastAhead reports whether the tokens at the cursor are "(" followed by a
// type specifier.
func (p *Parser) isCastAhead() bool {
	return p.peek().Type == LPAREN && isTypeStart(p.peekAt(1).Type)
}

// parseUnary handles the prefix operators, sizeof and casts.
func (p *Parser) parseUnary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case MINUS, PLUS, NOT, TILDE, AND, STAR, PLUS_PLUS, MINUS_MINUS:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.Type == PLUS {
			return operand, nil
		}
		// Fold negative literals so -1 stays a constant.
		if tok.Type == MINUS {
			if lit, ok := operand.(*IntLit); ok {
				lit.Value = -lit.Value
				return lit, nil
			}
			if lit, ok := operand.(*FloatLit); ok {
				lit.Value = -lit.Value
				return lit, nil
			}
		}
		return &UnaryExpr{node: p.mk(tok), Op: tok.Type, X: operand}, nil

	case SIZEOF:
		p.advance()
		if p.isCastAhead() {
			p.advance() // (
			tn, err := p.parseTypeName()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			return &SizeofExpr{node: p.mk(tok), Type: tn}, nil
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &SizeofExpr{node: p.mk(tok), X: operand}, nil

	case LPAREN:
		if p.isCastAhead() {
			p.advance() // (
			tn, err := p.parseTypeName()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			operand, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &CastExpr{node: p.mk(tok), Type: tn, X: operand}, nil
		}
	}
	return p.parsePostfix()
}

// parsePostfix handles subscripts, calls, member access and x++ / x--.
func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		switch tok.Type {
		case LBRACKET:
			p.advance()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			expr = &IndexExpr{node: p.mk(tok), X: expr, Index: index}

		case LPAREN:
			ident, ok := expr.(*Ident)
			if !ok {
				return nil, p.fmtError(tok, "called object %s is not a function name", expr)
			}
			p.advance()
			args, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			expr = &CallExpr{node: node{id: ident.id, line: ident.line}, Name: ident.Name, Args: args}

		case DOT, ARROW:
			p.advance()
			name, err := p.expect(IDENTIFIER)
			if err != nil {
				return nil, err
			}
			expr = &MemberExpr{node: p.mk(tok), X: expr, Member: name.Lexeme, Arrow: tok.Type == ARROW}

		case PLUS_PLUS, MINUS_MINUS:
			p.advance()
			expr = &PostfixExpr{node: p.mk(tok), Op: tok.Type, X: expr}

		default:
			return expr, nil
		}
	}
}

// parseCallArgs parses the argument list after the opening parenthesis.
func (p *Parser) parseCallArgs() ([]Expr, error) {
	var args []Expr
	if p.accept(RPAREN) {
		return args, nil
	}
	for {
		arg, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.accept(COMMA) {
			continue
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return args, nil
	}
}

// parsePrimary handles literals, identifiers and parenthesised expressions.
func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.advance()
	switch tok.Type {
	case INTEGER:
		v, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			return nil, p.fmtError(tok, "invalid integer %q", tok.Lexeme)
		}
		return &IntLit{node: p.mk(tok), Value: v}, nil

	case FLOAT:
		v, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			return nil, p.fmtError(tok, "invalid float %q", tok.Lexeme)
		}
		return &FloatLit{node: p.mk(tok), Value: v}, nil

	case STRING:
		// Adjacent literals concatenate: "ab" "cd" -> "abcd"
		val := tok.Lexeme
		for p.peek().Type == STRING {
			val += p.advance().Lexeme
		}
		return &StringLit{node: p.mk(tok), Value: val}, nil

	case IDENTIFIER:
		return &Ident{node: p.mk(tok), Name: tok.Lexeme}, nil

	case LPAREN:
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, p.fmtError(tok, "unexpected token %s (%q) in expression", tok.Type, tok.Lexeme)
}

// parseInitializer parses either a brace list or a single expression.
func (p *Parser) parseInitializer() (Expr, error) {
	if p.peek().Type != LBRACE {
		return p.parseAssign()
	}
	tok := p.advance()
	list := &InitList{node: p.mk(tok)}
	for p.peek().Type != RBRACE {
		elem, err := p.parseInitializer()
		if err != nil {
			return nil, err
		}
		list.Elems = append(list.Elems, elem)
		if !p.accept(COMMA) {
			break
		}
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	return list, nil
}

//  Declarations

// parseTypeSpec parses storage classes, qualifiers and the base type. An
// inline struct or enum body is returned as a separate definition node.
func (p *Parser) parseTypeSpec() (*TypeSpec, Stmt, error) {
	start := p.peek()
	spec := &TypeSpec{node: p.mk(start), Base: TypeInt}
	var def Stmt

	var sawBase, sawUnsigned bool
	base := TypeInt
	for isTypeStart(p.peek().Type) {
		tok := p.advance()
		switch tok.Type {
		case STATIC:
			spec.Static = true
		case EXTERN:
			spec.Extern = true
		case CONST:
			spec.Const = true
		case VOLATILE:
			spec.Volatile = true
		case SIGNED:
			sawBase = true
		case UNSIGNED:
			sawUnsigned = true
			sawBase = true
		case INT:
			if base != TypeShort && base != TypeLong {
				base = TypeInt
			}
			sawBase = true
		case CHAR:
			base, sawBase = TypeChar, true
		case SHORT:
			base, sawBase = TypeShort, true
		case LONG:
			if base == TypeDouble {
				break
			}
			base, sawBase = TypeLong, true
		case FLOAT_KW:
			base, sawBase = TypeFloat, true
		case DOUBLE:
			base, sawBase = TypeDouble, true
		case VOID:
			base, sawBase = TypeVoid, true
		case STRUCT:
			name, body, err := p.parseStructSpec(tok)
			if err != nil {
				return nil, nil, err
			}
			base, sawBase = TypeStruct, true
			spec.Tag = name
			if body != nil {
				def = body
			}
		case ENUM:
			name, body, err := p.parseEnumSpec(tok)
			if err != nil {
				return nil, nil, err
			}
			base, sawBase = TypeInt, true
			spec.Tag = name
			if body != nil {
				def = body
			}
		}
	}
	if !sawBase && !spec.Const && !spec.Volatile && !spec.Static && !spec.Extern {
		return nil, nil, p.fmtError(start, "expected type specifier, got %s (%q)", start.Type, start.Lexeme)
	}
	if sawUnsigned && base != TypeChar {
		base = TypeUnsigned
	}
	spec.Base = base
	return spec, def, nil
}

// parseStructSpec parses the part after "struct": a tag and an optional body.
func (p *Parser) parseStructSpec(kw Token) (string, *StructDef, error) {
	nameTok, err := p.expect(IDENTIFIER)
	if err != nil {
		return "", nil, err
	}
	if p.peek().Type != LBRACE {
		return nameTok.Lexeme, nil, nil
	}
	p.advance() // {
	def := &StructDef{node: p.mk(kw), Name: nameTok.Lexeme}
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return "", nil, p.fmtError(p.peek(), "unterminated struct %s", nameTok.Lexeme)
		}
		field, extra, err := p.parseDeclaration()
		if err != nil {
			return "", nil, err
		}
		if extra != nil {
			return "", nil, p.fmtError(kw, "nested type definitions are not supported in struct %s", nameTok.Lexeme)
		}
		if field != nil {
			def.Fields = append(def.Fields, field)
		}
	}
	p.advance() // }
	return nameTok.Lexeme, def, nil
}

// parseEnumSpec parses the part after "enum": a tag and an optional body.
func (p *Parser) parseEnumSpec(kw Token) (string, *EnumDef, error) {
	name := ""
	if p.peek().Type == IDENTIFIER {
		name = p.advance().Lexeme
	}
	if p.peek().Type != LBRACE {
		if name == "" {
			return "", nil, p.fmtError(p.peek(), "expected enum name or body")
		}
		return name, nil, nil
	}
	p.advance() // {
	def := &EnumDef{node: p.mk(kw), Name: name}
	for p.peek().Type != RBRACE {
		nameTok, err := p.expect(IDENTIFIER)
		if err != nil {
			return "", nil, err
		}
		m := &Enumerator{node: p.mk(nameTok), Name: nameTok.Lexeme}
		if p.accept(ASSIGN) {
			v, err := p.parseTernary()
			if err != nil {
				return "", nil, err
			}
			m.Value = v
		}
		def.Members = append(def.Members, m)
		if !p.accept(COMMA) {
			break
		}
	}
	if _, err := p.expect(RBRACE); err != nil {
		return "", nil, err
	}
	return name, def, nil
}

// parseDeclarator parses "*"* IDENT ("(" params ")" | ("[" n "]")*). With
// abstract set the identifier is optional, as in a cast's type name.
func (p *Parser) parseDeclarator(abstract bool) (Declarator, error) {
	var stars []Token
	var starConst []bool
	for p.peek().Type == STAR {
		stars = append(stars, p.advance())
		c := false
		for p.peek().Type == CONST || p.peek().Type == VOLATILE {
			if p.advance().Type == CONST {
				c = true
			}
		}
		starConst = append(starConst, c)
	}

	tok := p.peek()
	var d Declarator
	if tok.Type == IDENTIFIER {
		p.advance()
		d = &IdentDeclarator{node: p.mk(tok), Name: tok.Lexeme}
	} else if abstract {
		d = &IdentDeclarator{node: p.mk(tok)}
	} else {
		return nil, p.fmtError(tok, "expected identifier in declarator, got %s (%q)", tok.Type, tok.Lexeme)
	}

	wrapPointers := func(inner Declarator) Declarator {
		for i := len(stars) - 1; i >= 0; i-- {
			inner = &PointerDeclarator{node: p.mk(stars[i]), Inner: inner, Const: starConst[i]}
		}
		return inner
	}

	if !abstract && p.peek().Type == LPAREN {
		open := p.advance()
		params, err := p.parseParamList(open)
		if err != nil {
			return nil, err
		}
		return &FuncDeclarator{node: p.mk(tok), Inner: wrapPointers(d), Params: params}, nil
	}

	for p.peek().Type == LBRACKET {
		open := p.advance()
		size := -1
		if p.peek().Type == INTEGER {
			sizeTok := p.advance()
			n, err := strconv.Atoi(sizeTok.Lexeme)
			if err != nil || n <= 0 {
				return nil, p.fmtError(sizeTok, "invalid array size %q", sizeTok.Lexeme)
			}
			size = n
		} else if p.peek().Type != RBRACKET {
			return nil, p.fmtError(p.peek(), "array size must be an integer constant")
		}
		if _, err := p.expect(RBRACKET); err != nil {
			return nil, err
		}
		d = &ArrayDeclarator{node: p.mk(open), Inner: d, Size: size}
	}
	return wrapPointers(d), nil
}

// parseParamList parses parameters after the opening parenthesis.
func (p *Parser) parseParamList(open Token) (*ParamList, error) {
	list := &ParamList{node: p.mk(open)}
	if p.accept(RPAREN) {
		return list, nil
	}
	// f(void) declares no parameters.
	if p.peek().Type == VOID && p.peekAt(1).Type == RPAREN {
		p.advance()
		p.advance()
		return list, nil
	}
	for {
		if p.peek().Type == ELLIPSIS {
			p.advance()
			list.Variadic = true
			break
		}
		spec, def, err := p.parseTypeSpec()
		if err != nil {
			return nil, err
		}
		if def != nil {
			return nil, p.fmtError(open, "type definitions are not allowed in parameter lists")
		}
		start := p.peek()
		decl, err := p.parseDeclarator(true)
		if err != nil {
			return nil, err
		}
		list.Params = append(list.Params, &Param{node: p.mk(start), Spec: spec, Decl: decl})
		if !p.accept(COMMA) {
			break
		}
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return list, nil
}

// parseTypeName parses a specifier and abstract declarator: "int *", "char".
func (p *Parser) parseTypeName() (*TypeName, error) {
	spec, def, err := p.parseTypeSpec()
	if err != nil {
		return nil, err
	}
	if def != nil {
		return nil, p.fmtError(p.peek(), "type definitions are not allowed in a type name")
	}
	decl, err := p.parseDeclarator(true)
	if err != nil {
		return nil, err
	}
	return &TypeName{Spec: spec, Decl: decl}, nil
}

// parseDeclaration parses a full declaration up to and including ';'. It
// returns the declaration (nil when only a struct or enum was defined) and
// any inline struct/enum definition.
func (p *Parser) parseDeclaration() (*Declaration, Stmt, error) {
	start := p.peek()
	spec, def, err := p.parseTypeSpec()
	if err != nil {
		return nil, nil, err
	}
	if p.accept(SEMICOLON) {
		return nil, def, nil
	}

	decl := &Declaration{node: p.mk(start), Spec: spec}
	for {
		dtok := p.peek()
		d, err := p.parseDeclarator(false)
		if err != nil {
			return nil, nil, err
		}
		if _, isFunc := d.(*FuncDeclarator); isFunc {
			return nil, nil, p.fmtError(dtok, "function declarator not allowed here")
		}
		item := &InitDeclarator{node: p.mk(dtok), Decl: d}
		if p.accept(ASSIGN) {
			init, err := p.parseInitializer()
			if err != nil {
				return nil, nil, err
			}
			item.Init = init
		}
		decl.Vars = append(decl.Vars, item)
		if !p.accept(COMMA) {
			break
		}
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, nil, err
	}
	return decl, def, nil
}

//  Statements

// parseBlock parses { items }.
func (p *Parser) parseBlock() (*CompoundStmt, error) {
	open, err := p.expect(LBRACE)
	if err != nil {
		return nil, err
	}
	block := &CompoundStmt{node: p.mk(open)}
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.fmtError(open, "unterminated block")
		}
		items, err := p.parseBlockItem()
		if err != nil {
			return nil, err
		}
		block.Items = append(block.Items, items...)
	}
	p.advance() // }
	return block, nil
}

// parseBlockItem parses one statement or declaration. A declaration with an
// inline struct/enum body yields two items.
func (p *Parser) parseBlockItem() ([]Stmt, error) {
	if isTypeStart(p.peek().Type) {
		decl, def, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		var items []Stmt
		if def != nil {
			items = append(items, def)
		}
		if decl != nil {
			items = append(items, decl)
		}
		return items, nil
	}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return []Stmt{stmt}, nil
}

// parseStatement dispatches on the leading token.
func (p *Parser) parseStatement() (Stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case LBRACE:
		return p.parseBlock()
	case IF:
		return p.parseIf()
	case WHILE:
		return p.parseWhile()
	case DO:
		return p.parseDoWhile()
	case FOR:
		return p.parseFor()
	case SWITCH:
		return p.parseSwitch()
	case RETURN:
		return p.parseReturn()
	case BREAK:
		p.advance()
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		return &BreakStmt{node: p.mk(tok)}, nil
	case CONTINUE:
		p.advance()
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		return &ContinueStmt{node: p.mk(tok)}, nil
	case SEMICOLON:
		p.advance()
		return &ExprStmt{node: p.mk(tok)}, nil
	case CASE, DEFAULT:
		return nil, p.fmtError(tok, "%s label not within a switch statement", strings.ToLower(tok.Type.String()))
	}
	if isTypeStart(tok.Type) {
		return nil, p.fmtError(tok, "a declaration is not a statement here")
	}

	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &ExprStmt{node: p.mk(tok), X: expr}, nil
}

// parseParenExpr parses "(" expression ")".
func (p *Parser) parseParenExpr() (Expr, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	tok := p.advance() // if
	cond, err := p.parseParenExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{node: p.mk(tok), Cond: cond, Then: then}
	if p.accept(ELSE) {
		els, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmt.Else = els
	}
	return stmt, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	tok := p.advance() // while
	cond, err := p.parseParenExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{node: p.mk(tok), Cond: cond, Body: body}, nil
}

func (p *Parser) parseDoWhile() (Stmt, error) {
	tok := p.advance() // do
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(WHILE); err != nil {
		return nil, err
	}
	cond, err := p.parseParenExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &DoWhileStmt{node: p.mk(tok), Body: body, Cond: cond}, nil
}

// parseFor handles for (init; cond; post) body where init may declare
// variables scoped to the loop.
func (p *Parser) parseFor() (Stmt, error) {
	tok := p.advance() // for
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	stmt := &ForStmt{node: p.mk(tok)}

	switch {
	case p.peek().Type == SEMICOLON:
		p.advance()
	case isTypeStart(p.peek().Type):
		decl, def, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		if def != nil || decl == nil {
			return nil, p.fmtError(tok, "type definitions are not allowed in a for initializer")
		}
		stmt.Init = decl
	default:
		initTok := p.peek()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		stmt.Init = &ExprStmt{node: p.mk(initTok), X: expr}
	}

	if p.peek().Type != SEMICOLON {
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Cond = cond
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}

	if p.peek().Type != RPAREN {
		post, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Post = post
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}

	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	stmt.Body = body
	return stmt, nil
}

// parseSwitch handles switch (tag) { case v: ... default: ... }
func (p *Parser) parseSwitch() (Stmt, error) {
	tok := p.advance() // switch
	tag, err := p.parseParenExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	stmt := &SwitchStmt{node: p.mk(tok), Tag: tag}
	sawDefault := false

	for p.peek().Type != RBRACE {
		label := p.peek()
		clause := &CaseClause{node: p.mk(label)}
		switch label.Type {
		case CASE:
			p.advance()
			v, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			clause.Value = v
		case DEFAULT:
			p.advance()
			if sawDefault {
				return nil, p.fmtError(label, "multiple default labels in one switch")
			}
			sawDefault = true
		default:
			return nil, p.fmtError(label, "expected case or default, got %s (%q)", label.Type, label.Lexeme)
		}
		if _, err := p.expect(COLON); err != nil {
			return nil, err
		}

		for t := p.peek().Type; t != CASE && t != DEFAULT && t != RBRACE; t = p.peek().Type {
			if t == EOF {
				return nil, p.fmtError(tok, "unterminated switch")
			}
			items, err := p.parseBlockItem()
			if err != nil {
				return nil, err
			}
			clause.Body = append(clause.Body, items...)
		}
		stmt.Clauses = append(stmt.Clauses, clause)
	}
	p.advance() // }
	return stmt, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	tok := p.advance() // return
	stmt := &ReturnStmt{node: p.mk(tok)}
	if p.peek().Type != SEMICOLON {
		v, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Value = v
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return stmt, nil
}

//  Top level

// parseTopLevel parses one external declaration: a function definition or
// prototype, a global declaration, or a struct/enum definition.
func (p *Parser) parseTopLevel() ([]Node, error) {
	start := p.peek()
	if !isTypeStart(start.Type) {
		return nil, p.fmtError(start, "expected declaration or function definition, got %s (%q)", start.Type, start.Lexeme)
	}

	// Look past the specifier and declarator to see whether this is a function.
	save, saveID := p.pos, p.nextID
	spec, def, err := p.parseTypeSpec()
	if err != nil {
		return nil, err
	}
	if p.peek().Type == SEMICOLON {
		p.advance()
		if def == nil {
			return nil, nil
		}
		return []Node{def}, nil
	}
	dtok := p.peek()
	d, err := p.parseDeclarator(false)
	if err != nil {
		return nil, err
	}
	fd, isFunc := d.(*FuncDeclarator)
	if !isFunc {
		// Re-parse as an ordinary declaration.
		p.pos, p.nextID = save, saveID
		decl, def, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		var items []Node
		if def != nil {
			items = append(items, def)
		}
		if decl != nil {
			items = append(items, decl)
		}
		return items, nil
	}

	fn := &FuncDef{node: p.mk(dtok), Spec: spec, Decl: fd}
	var items []Node
	if def != nil {
		items = append(items, def)
	}
	if p.accept(SEMICOLON) {
		return append(items, fn), nil
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return append(items, fn), nil
}

// Parse builds a Program from a token stream. rawSource is only used to quote
// the offending line in error messages.
func Parse(tokens []Token, rawSource string) (*Program, error) {
	p := NewParser(tokens, rawSource)
	prog := &Program{node: p.mk(p.peek())}
	for p.peek().Type != EOF {
		items, err := p.parseTopLevel()
		if err != nil {
			return nil, err
		}
		prog.Items = append(prog.Items, items...)
	}
	prog.NodeCount = p.nextID
	return prog, nil
}
