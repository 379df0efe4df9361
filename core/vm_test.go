package core

import "testing"

func pushOp(val []byte) []byte {
	return append([]byte{byte(OpPush), byte(len(val))}, val...)
}

func TestSuperlightEvaluatorCreditEffect(t *testing.T) {
	addr := Address{1, 2, 3}
	var code []byte
	code = append(code, pushOp(addr[:])...)
	code = append(code, pushOp([]byte{5})...)
	code = append(code, byte(OpCredit))
	code = append(code, byte(OpRet))

	res, err := (SuperlightEvaluator{}).Execute(code, nil, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Effects) != 1 {
		t.Fatalf("expected 1 effect, got %d", len(res.Effects))
	}
	if res.Effects[0].Credit != addr || res.Effects[0].Amount != 5 {
		t.Fatalf("unexpected effect: %+v", res.Effects[0])
	}
}

func TestSuperlightEvaluatorDebitEffect(t *testing.T) {
	addr := Address{9}
	var code []byte
	code = append(code, pushOp(addr[:])...)
	code = append(code, pushOp([]byte{7})...)
	code = append(code, byte(OpDebit))
	code = append(code, byte(OpRet))

	res, err := (SuperlightEvaluator{}).Execute(code, nil, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Effects[0].Debit != addr || res.Effects[0].Amount != 7 {
		t.Fatalf("unexpected effect: %+v", res.Effects[0])
	}
}

func TestSuperlightEvaluatorLog(t *testing.T) {
	var code []byte
	code = append(code, pushOp([]byte("hello"))...)
	code = append(code, byte(OpLog))
	code = append(code, byte(OpRet))

	res, err := (SuperlightEvaluator{}).Execute(code, nil, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "hello" {
		t.Fatalf("unexpected logs: %+v", res.Logs)
	}
}

func TestSuperlightEvaluatorStackUnderflow(t *testing.T) {
	code := []byte{byte(OpAdd)}
	if _, err := (SuperlightEvaluator{}).Execute(code, nil, 1000); err == nil {
		t.Fatalf("expected stack underflow error")
	}
}

func TestSuperlightEvaluatorOutOfGas(t *testing.T) {
	var code []byte
	code = append(code, pushOp([]byte{1})...)
	code = append(code, pushOp([]byte{2})...)
	code = append(code, byte(OpAdd))
	code = append(code, byte(OpRet))

	if _, err := (SuperlightEvaluator{}).Execute(code, nil, 1); err == nil {
		t.Fatalf("expected out-of-gas error with a 1-unit gas limit")
	}
}

func TestSuperlightEvaluatorInstructionBudget(t *testing.T) {
	var code []byte
	for i := 0; i < MaxInstructions+10; i++ {
		code = append(code, pushOp([]byte{byte(i)})...)
	}
	if _, err := (SuperlightEvaluator{}).Execute(code, nil, uint64(len(code))*2); err == nil {
		t.Fatalf("expected instruction budget exceeded error")
	}
}

func TestSelectEvaluatorDispatchesByMagicByte(t *testing.T) {
	if _, ok := SelectEvaluator([]byte{0x01, 0x02}).(*SuperlightEvaluator); !ok {
		t.Fatalf("expected SuperlightEvaluator for non-wasm code")
	}
	wasmLike := append(append([]byte{}, wasmMagic...), 0x01)
	if _, ok := SelectEvaluator(wasmLike).(*HeavyEvaluator); !ok {
		t.Fatalf("expected HeavyEvaluator for wasm-magic-prefixed code")
	}
}
