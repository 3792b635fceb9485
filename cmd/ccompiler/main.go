// Command ccompiler runs the compiler pipeline on one file and dumps every
// intermediate stage: preprocessed source, tokens, AST, generated assembly
// and the symbol table.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ccx86/pkg/compiler"
)

const testSource = `int add(int a, int b) { return a + b; }

int main() {
    int x = 10;
    int y = 20;
    return add(x, y);
}
`

func main() {
	src := testSource
	opts := compiler.Options{FileName: "test.c", BaseDir: ".", Diagnostics: os.Stderr}
	if len(os.Args) > 1 {
		data, err := os.ReadFile(os.Args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
		opts.FileName = filepath.Base(os.Args[1])
		opts.BaseDir = filepath.Dir(os.Args[1])
	}

	res, err := compiler.Compile(src, opts)

	if res.Source != "" {
		fmt.Printf("Source:\n%s\n", res.Source)
	}

	if res.Tokens != nil {
		fmt.Printf("Tokens (%d)\n", len(res.Tokens))
		for _, tok := range res.Tokens {
			fmt.Println(" ", tok)
		}
		fmt.Println()
	}

	if res.Program != nil {
		fmt.Println("AST")
		compiler.DumpAST(os.Stdout, res.Program)
		fmt.Println()
	}

	if res.Symbols != nil {
		fmt.Printf("Diagnostics: %d error(s), %d warning(s)\n\n", res.Errors, res.Warnings)
		fmt.Print(res.Symbols)
		fmt.Println()
	}

	if err != nil {
		if !errors.Is(err, compiler.ErrSemantic) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	fmt.Println("Generated Assembly")
	fmt.Print(res.Assembly)
}
