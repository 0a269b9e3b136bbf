package supervisor

import "time"

// Policy é o backoff exponencial usado tanto no upstream quanto no cliente do relay
type Policy struct {
	BaseDelay   time.Duration // atraso da primeira nova tentativa
	MaxDelay    time.Duration // teto do atraso
	MaxAttempts int           // novas tentativas antes do estado terminal
}

// DefaultPolicy: 1s dobrando, 5 tentativas
func DefaultPolicy() Policy {
	return Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5}
}

// Delay devolve o atraso antes da tentativa n (1-based): BaseDelay·2^(n-1), limitado a MaxDelay
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted indica que failures falhas consecutivas já esgotaram as tentativas
// (a primeira falha não conta como nova tentativa)
func (p Policy) Exhausted(failures int) bool {
	return failures > p.MaxAttempts
}
