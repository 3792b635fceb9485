// Package compiler provides a C-subset preprocessor, lexer, parser, semantic
// analyzer and code generator that targets x86-64 GNU assembly (AT&T syntax).
//
// Pipeline: C source → Preprocess → Lex → Parse → Analyze → Generate → x86-64 assembly text
package compiler
