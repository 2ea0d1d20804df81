// Package asm provides the textual assembler: per-opcode syntax
// verification, tokenization, label resolution, instruction
// construction, and data-file parsing. It turns source text into the
// parsed program the timing model consumes.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sarchlab/mipssim/insts"
)

// MaxProgramWords is the maximum program length.
const MaxProgramWords = 256

// nameWidth is the width retirement trace lines pad source text to.
const nameWidth = 35

// Operand syntax fragments.
const (
	immPat    = `-?(?:\d{1,5}|[0-9a-f]+h)`
	posImmPat = `(?:\d{1,5}|[0-9a-f]+h)`
	regPat    = `r(?:[12]?[0-9]|3[01])`
	delimPat  = `,\s*`
	labelPat  = `\w+`
)

var (
	rTypePat   = regexp.MustCompile(`^` + regPat + delimPat + regPat + delimPat + regPat + `$`)
	iTypePat   = regexp.MustCompile(`^` + regPat + delimPat + regPat + delimPat + immPat + `$`)
	lwSwPat    = regexp.MustCompile(`^` + regPat + delimPat + posImmPat + `\(` + regPat + `\)$`)
	branchPat  = regexp.MustCompile(`^` + regPat + delimPat + regPat + delimPat + labelPat + `$`)
	liPat      = regexp.MustCompile(`^` + regPat + delimPat + immPat + `$`)
	jumpPat    = regexp.MustCompile(`^` + labelPat + `$`)
	nothingPat = regexp.MustCompile(`^$`)

	labelPrefix = regexp.MustCompile(`^\w+:\s+`)
	tokenDelim  = regexp.MustCompile(`,?\s+`)
	memOperand  = regexp.MustCompile(`[()]`)
)

// operandPatterns maps each mnemonic to the syntax its operands must
// match.
var operandPatterns = map[string]*regexp.Regexp{
	"add": rTypePat, "sub": rTypePat, "and": rTypePat, "or": rTypePat,
	"mult": rTypePat,

	"addi": iTypePat, "subi": iTypePat, "andi": iTypePat, "ori": iTypePat,
	"multi": iTypePat,

	"li": liPat, "lw": lwSwPat, "sw": lwSwPat,
	"beq": branchPat, "bne": branchPat,
	"j":   jumpPat,
	"hlt": nothingPat,
}

var rTypeOps = map[string]insts.Op{
	"add": insts.OpAdd, "sub": insts.OpSub, "and": insts.OpAnd,
	"or": insts.OpOr, "mult": insts.OpMult,
}

var iTypeOps = map[string]insts.Op{
	"addi": insts.OpAddI, "subi": insts.OpSubI, "andi": insts.OpAndI,
	"ori": insts.OpOrI, "multi": insts.OpMultI,
	"lw": insts.OpLW, "sw": insts.OpSW, "li": insts.OpLI,
	"beq": insts.OpBEQ, "bne": insts.OpBNE,
}

// Program is a fully assembled program.
type Program struct {
	// Instructions in program order.
	Instructions []*insts.Instruction

	// Originals holds the raw source lines, right-padded to the trace
	// column width.
	Originals []string

	// SymbolTable maps labels to instruction indices.
	SymbolTable map[string]int
}

// Assemble reads assembly source and produces the program. Empty lines
// are skipped; everything else must satisfy the opcode's operand
// syntax.
func Assemble(r io.Reader) (*Program, error) {
	var originals []string
	var tokens [][]string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		originals = append(originals, line)

		normalized := strings.ToLower(strings.TrimSpace(line))
		if err := verifySyntax(normalized); err != nil {
			return nil, err
		}
		tokens = append(tokens, tokenDelim.Split(normalized, -1))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(tokens) > MaxProgramWords {
		return nil, fmt.Errorf("program must be %d words or less", MaxProgramWords)
	}

	symbols := make(map[string]int)
	for i, toks := range tokens {
		if name, ok := strings.CutSuffix(toks[0], ":"); ok {
			symbols[name] = i
		}
	}

	prog := &Program{SymbolTable: symbols}
	for i, toks := range tokens {
		padded := pad(originals[i])
		prog.Originals = append(prog.Originals, padded)

		inst, err := buildInstruction(toks, padded, symbols)
		if err != nil {
			return nil, err
		}
		prog.Instructions = append(prog.Instructions, inst)
	}

	return prog, nil
}

// AssembleFile assembles the program in the named file.
func AssembleFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Assemble(f)
}

// ParseData reads the data file: one word per line as a base-2 integer
// string. Empty lines are skipped.
func ParseData(r io.Reader) ([]int32, error) {
	var words []int32

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(line, 2, 32)
		if err != nil {
			return nil, fmt.Errorf("bad data word %q: %w", line, err)
		}
		words = append(words, int32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return words, nil
}

// ParseDataFile parses the data words in the named file.
func ParseDataFile(path string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseData(f)
}

// verifySyntax checks one normalized source line against the mnemonic's
// operand pattern. Label references are not resolved here.
func verifySyntax(line string) error {
	noLabel := labelPrefix.ReplaceAllString(line, "")

	name, operands, _ := strings.Cut(noLabel, " ")
	pattern, ok := operandPatterns[name]
	if !ok {
		return fmt.Errorf("%s instruction not supported", name)
	}

	if !pattern.MatchString(strings.TrimSpace(operands)) {
		return fmt.Errorf("%s operands are incorrect for %s", operands, name)
	}
	return nil
}

// pad right-pads a source line to the trace column width.
func pad(s string) string {
	if len(s) >= nameWidth {
		return s
	}
	return s + strings.Repeat(" ", nameWidth-len(s))
}

// buildInstruction constructs the descriptor for one tokenized line.
func buildInstruction(toks []string, name string, symbols map[string]int) (*insts.Instruction, error) {
	start := 0
	if strings.Contains(toks[0], ":") {
		start = 1
	}
	mnemonic := toks[start]
	operands := toks[start+1:]

	if op, ok := rTypeOps[mnemonic]; ok {
		// add rd, rs, rt
		rd := regNum(operands[0])
		rs := regNum(operands[1])
		rt := regNum(operands[2])
		return insts.NewRType(op, rs, rt, rd, name), nil
	}

	switch {
	case mnemonic == "j":
		index, ok := symbols[operands[0]]
		if !ok {
			return nil, fmt.Errorf("j label %s is invalid", operands[0])
		}
		return insts.NewJump(index*4, name), nil

	case mnemonic == "hlt":
		return insts.NewHalt(name), nil

	default:
		return buildIType(iTypeOps[mnemonic], operands, name, symbols)
	}
}

// buildIType constructs the descriptor for the immediate-operand
// family. The first register is the architectural destination where one
// exists: arithmetic immediates and li write RT (the first register),
// memory accesses address through RT (the base register) and use RS
// (the first register) as data.
func buildIType(op insts.Op, operands []string, name string, symbols map[string]int) (*insts.Instruction, error) {
	first := regNum(operands[0])
	rs, rt := first, 0
	var imm int32

	second := operands[1]
	switch {
	case strings.HasPrefix(second, "r") && !memOperand.MatchString(second):
		rt = regNum(second)

	case memOperand.MatchString(second):
		// imm(rN) memory operand
		inner := memOperand.ReplaceAllString(second, "")
		offset, reg, _ := strings.Cut(inner, "r")
		v, err := parseImm(offset)
		if err != nil {
			return nil, err
		}
		imm = v
		n, _ := strconv.Atoi(reg)
		rt = n

	default:
		v, err := parseImm(second)
		if err != nil {
			return nil, err
		}
		imm = v
	}

	if len(operands) == 3 {
		third := operands[2]
		if index, ok := symbols[third]; ok {
			imm = int32(index)
		} else {
			v, err := parseImm(third)
			if err != nil {
				return nil, fmt.Errorf("label %s was not found", third)
			}
			imm = v
		}
	}

	if op.IsArithI() || op == insts.OpLI {
		// First register is the destination; swap into the RT slot.
		rs, rt = rt, first
	}

	return insts.NewIType(op, rs, rt, imm, name)
}

// regNum extracts the register number from an rN operand.
func regNum(operand string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(operand, "r"))
	return n
}

// parseImm parses a decimal immediate or an h-suffixed hex immediate.
func parseImm(s string) (int32, error) {
	base := 10
	if rest, ok := strings.CutSuffix(s, "h"); ok {
		s = rest
		base = 16
	}
	v, err := strconv.ParseInt(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("bad immediate %q: %w", s, err)
	}
	return int32(v), nil
}
