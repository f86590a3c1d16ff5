package pow

import (
	"context"
	"crypto/sha512"
	"math/big"
	"runtime"
)

// trialHash computes SHA-512(SHA-512(nonceBytes || initialHash)) and
// returns its first 8 bytes, the value CheckPoW/TrialValue compare
// against the target.
func trialHash(nonce uint64, initialHash []byte) []byte {
	inner := sha512.New()
	inner.Write(nonceBytes(nonce))
	inner.Write(initialHash)
	innerSum := inner.Sum(nil)

	outer := sha512.Sum512(innerSum)
	return outer[:8]
}

// nonceBytes reproduces the reference implementation's minimal big-endian
// encoding of the nonce (a BigUint there): no leading zero bytes, with
// zero itself encoding as a single zero byte.
func nonceBytes(nonce uint64) []byte {
	if nonce == 0 {
		return []byte{0}
	}
	return new(big.Int).SetUint64(nonce).Bytes()
}

// Result is the outcome of a completed search: the nonce that satisfies
// the target and the trial value it produced.
type Result struct {
	Nonce      uint64
	TrialValue *big.Int
}

// Search runs a parallel nonce search across NumCPU goroutines, each
// striding by the worker count starting from its own index — mirroring
// the reference implementation's AsyncPoW worker split — until one finds
// a nonce at or below target or ctx is cancelled. It blocks the calling
// goroutine; callers that want it backgrounded should run it in its own
// goroutine (see Queue).
func Search(ctx context.Context, target *big.Int, initialHash []byte) (Result, error) {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	resultCh := make(chan Result, 1)
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < workers; i++ {
		go searchWorker(searchCtx, uint64(i), uint64(workers), target, initialHash, resultCh)
	}

	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func searchWorker(ctx context.Context, start, stride uint64, target *big.Int, initialHash []byte, out chan<- Result) {
	nonce := start
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		trial := new(big.Int).SetBytes(trialHash(nonce, initialHash))
		if trial.Cmp(target) <= 0 {
			select {
			case out <- Result{Nonce: nonce, TrialValue: trial}:
			case <-ctx.Done():
			}
			return
		}
		nonce += stride
	}
}
