package core

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// Opcode is the superlight evaluator's instruction set, grounded on the
// teacher's LightVM interpreter loop (virtual_machine.go) but narrowed to
// the operations SmartContract evaluation actually needs: arithmetic, a
// key/value scratch store, and explicit debit/credit/log effects.
type Opcode byte

const (
	OpPush Opcode = iota
	OpAdd
	OpSub
	OpMul
	OpStore
	OpLoad
	OpCredit
	OpDebit
	OpLog
	OpRet
)

// MaxInstructions bounds a superlight evaluation: the "bounded instruction
// budget" the spec requires for SmartContract evaluation.
const MaxInstructions = 10_000

// Effect is one explicit balance change an evaluator returns; the ledger
// applies it exactly as it applies a Standard transfer, subject to the same
// non-negative-balance invariant.
type Effect struct {
	Debit  Address
	Credit Address
	Amount uint64
}

// ExecResult is everything an evaluation produced: side-effects, logs, and
// gas actually consumed.
type ExecResult struct {
	Effects []Effect
	Logs    []string
	GasUsed uint64
}

// Evaluator runs a SmartContract's resolved bytecode against args within a
// gas budget.
type Evaluator interface {
	Execute(code, args []byte, gasLimit uint64) (*ExecResult, error)
}

// wasmMagic prefixes heavy-tier bytecode: code starting with it is compiled
// and run by wasmer; anything else runs on the superlight interpreter.
var wasmMagic = []byte{0x00, 'w', 'a', 's', 'm'}

// SelectEvaluator picks the tier for code by its magic-byte prefix.
func SelectEvaluator(code []byte) Evaluator {
	if bytes.HasPrefix(code, wasmMagic) {
		return &HeavyEvaluator{}
	}
	return &SuperlightEvaluator{}
}

// gasMeter tracks consumption against a fixed limit.
type gasMeter struct {
	used, limit uint64
}

func (g *gasMeter) consume(cost uint64) error {
	if g.used+cost > g.limit {
		return fmt.Errorf("out of gas (%d/%d)", g.used+cost, g.limit)
	}
	g.used += cost
	return nil
}

const opGasCost = 1

// SuperlightEvaluator is a stack-based interpreter for the Opcode set
// above, adapted from the teacher's LightVM.Execute.
type SuperlightEvaluator struct{}

func (SuperlightEvaluator) Execute(code, args []byte, gasLimit uint64) (*ExecResult, error) {
	res := &ExecResult{}
	meter := &gasMeter{limit: gasLimit}
	stack := make([][]byte, 0, 16)
	store := make(map[string][]byte)

	push := func(d []byte) { stack = append(stack, d) }
	pop := func() ([]byte, error) {
		if len(stack) == 0 {
			return nil, errors.New("stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}
	popAddr := func() (Address, error) {
		b, err := pop()
		if err != nil {
			return Address{}, err
		}
		if len(b) != 20 {
			return Address{}, fmt.Errorf("expected 20-byte address, got %d bytes", len(b))
		}
		var a Address
		copy(a[:], b)
		return a, nil
	}
	popUint64 := func() (uint64, error) {
		b, err := pop()
		if err != nil {
			return 0, err
		}
		var v uint64
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v, nil
	}

	pc := 0
	instructions := 0
	for pc < len(code) {
		instructions++
		if instructions > MaxInstructions {
			return nil, fmt.Errorf("instruction budget exceeded (%d)", MaxInstructions)
		}
		op := Opcode(code[pc])
		pc++
		if err := meter.consume(opGasCost); err != nil {
			return nil, err
		}
		switch op {
		case OpPush:
			if pc >= len(code) {
				return nil, errors.New("push: missing length byte")
			}
			l := int(code[pc])
			pc++
			if pc+l > len(code) {
				return nil, errors.New("push: out of bounds")
			}
			push(code[pc : pc+l])
			pc += l
		case OpAdd, OpSub, OpMul:
			a, err := popUint64()
			if err != nil {
				return nil, err
			}
			b, err := popUint64()
			if err != nil {
				return nil, err
			}
			var r uint64
			switch op {
			case OpAdd:
				r = a + b
			case OpSub:
				r = a - b
			case OpMul:
				r = a * b
			}
			push(uint64ToBytes(r))
		case OpStore:
			val, err := pop()
			if err != nil {
				return nil, err
			}
			key, err := pop()
			if err != nil {
				return nil, err
			}
			store[string(key)] = val
		case OpLoad:
			key, err := pop()
			if err != nil {
				return nil, err
			}
			push(store[string(key)])
		case OpCredit, OpDebit:
			amt, err := popUint64()
			if err != nil {
				return nil, err
			}
			addr, err := popAddr()
			if err != nil {
				return nil, err
			}
			eff := Effect{Amount: amt}
			if op == OpCredit {
				eff.Credit = addr
			} else {
				eff.Debit = addr
			}
			res.Effects = append(res.Effects, eff)
		case OpLog:
			msg, err := pop()
			if err != nil {
				return nil, err
			}
			res.Logs = append(res.Logs, string(msg))
		case OpRet:
			res.GasUsed = meter.used
			return res, nil
		default:
			return nil, fmt.Errorf("unknown opcode 0x%02x", op)
		}
	}
	res.GasUsed = meter.used
	return res, nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// HeavyEvaluator compiles and runs a WASM module via wasmer-go, metering
// host-call budget: every call into a credit/debit/log host import
// consumes gas, and the module is trapped once the budget is exhausted.
// Grounded on the teacher's HeavyVM.Execute.
type HeavyEvaluator struct{}

func (HeavyEvaluator) Execute(code, args []byte, gasLimit uint64) (*ExecResult, error) {
	body := code[len(wasmMagic):]
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, body)
	if err != nil {
		return nil, fmt.Errorf("wasm: compile module: %w", err)
	}

	res := &ExecResult{}
	meter := &gasMeter{limit: gasLimit}

	creditFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter.consume(10); err != nil {
				return nil, err
			}
			res.Effects = append(res.Effects, Effect{Amount: uint64(args[1].I64())})
			return nil, nil
		},
	)
	debitFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter.consume(10); err != nil {
				return nil, err
			}
			res.Effects = append(res.Effects, Effect{Amount: uint64(args[1].I64())})
			return nil, nil
		},
	)
	logFn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter.consume(1); err != nil {
				return nil, err
			}
			res.Logs = append(res.Logs, "contract log")
			return nil, nil
		},
	)

	importObject := wasmer.NewImportObject()
	importObject.Register("env", map[string]wasmer.IntoExtern{
		"credit": creditFn,
		"debit":  debitFn,
		"log":    logFn,
	})

	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return nil, fmt.Errorf("wasm: instantiate: %w", err)
	}
	defer instance.Close()

	run, err := instance.Exports.GetFunction("run")
	if err != nil {
		return nil, fmt.Errorf("wasm: missing export \"run\": %w", err)
	}
	if _, err := run(int32(len(args))); err != nil {
		return nil, fmt.Errorf("wasm: execution trapped: %w", err)
	}
	res.GasUsed = meter.used
	return res, nil
}
