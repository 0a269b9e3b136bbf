package registry

import (
	"strings"
	"sync"

	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// InterestKey identifica uma odd observada: (fixture, market, selection)
// Igualdade exata e sensível a maiúsculas nos três campos
type InterestKey struct {
	FixtureID string
	Market    string
	Selection string
}

// KeyOf extrai a chave de interesse de um registro do fornecedor
func KeyOf(ev events.OddsEvent) InterestKey {
	return InterestKey{FixtureID: ev.GameID, Market: ev.Market, Selection: ev.Selection}
}

// ID identifica uma assinatura registrada
type ID uint64

// Subscription é uma assinatura viva; OnUpdate roda apenas enquanto registrada
type Subscription struct {
	id       ID
	Key      InterestKey
	Sport    string // normalizado em minúsculas
	onUpdate func(price float64)

	mu      sync.Mutex
	active  bool
	running chan struct{} // fecha quando o callback em andamento termina
	owner   uint64        // goroutine que executa o callback
}

// ID devolve o identificador atribuído no registro
func (s *Subscription) ID() ID { return s.id }

// Deliver invoca o callback se a assinatura ainda estiver registrada.
// Chamadas concorrentes são serializadas; o callback roda sem s.mu,
// então pode chamar Unregister da própria assinatura.
func (s *Subscription) Deliver(price float64) bool {
	s.mu.Lock()
	for s.running != nil {
		running := s.running
		s.mu.Unlock()
		<-running
		s.mu.Lock()
	}
	if !s.active {
		s.mu.Unlock()
		return false
	}
	done := make(chan struct{})
	s.running, s.owner = done, goroutineID()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running, s.owner = nil, 0
		s.mu.Unlock()
		close(done)
	}()
	s.onUpdate(price)
	return true
}

// Registry mapeia chaves de interesse para assinaturas
// Único estado compartilhado entre conexões; mutado só por Register/Unregister
type Registry struct {
	mu     sync.RWMutex
	nextID ID
	byID   map[ID]*Subscription
	byKey  map[InterestKey]map[ID]*Subscription
	sports map[string]int // assinaturas vivas por esporte
}

func New() *Registry {
	return &Registry{
		byID:   make(map[ID]*Subscription),
		byKey:  make(map[InterestKey]map[ID]*Subscription),
		sports: make(map[string]int),
	}
}

func normalizeSport(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register adiciona uma assinatura; nunca falha e é seguro para uso concorrente.
// onUpdate pode chamar Unregister, inclusive da própria assinatura.
func (r *Registry) Register(sport string, key InterestKey, onUpdate func(price float64)) ID {
	if onUpdate == nil {
		onUpdate = func(float64) {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{
		id:       r.nextID,
		Key:      key,
		Sport:    normalizeSport(sport),
		onUpdate: onUpdate,
		active:   true,
	}
	r.byID[sub.id] = sub
	if r.byKey[key] == nil {
		r.byKey[key] = make(map[ID]*Subscription)
	}
	r.byKey[key][sub.id] = sub
	r.sports[sub.Sport]++
	return sub.id
}

// Unregister remove a assinatura; false se já removida (sem dupla remoção).
// Ao retornar, nenhum callback da assinatura está rodando nem volta a rodar,
// exceto quando chamado de dentro do próprio callback, que termina normalmente.
func (r *Registry) Unregister(id ID) bool {
	r.mu.Lock()
	sub, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		if set := r.byKey[sub.Key]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byKey, sub.Key)
			}
		}
		r.sports[sub.Sport]--
		if r.sports[sub.Sport] <= 0 {
			delete(r.sports, sub.Sport)
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	// bloqueia os próximos Deliver e aguarda o que estiver em andamento
	sub.mu.Lock()
	sub.active = false
	running, owner := sub.running, sub.owner
	sub.mu.Unlock()
	if running != nil && owner != goroutineID() {
		<-running
	}
	return true
}

// Match devolve as assinaturas cuja chave é igual à do evento e cujo
// esporte coincide (sem diferenciar maiúsculas). Vê o conjunto antigo ou o novo, nunca parcial.
func (r *Registry) Match(sport string, ev events.OddsEvent) []*Subscription {
	sport = normalizeSport(sport)

	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byKey[KeyOf(ev)]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Subscription, 0, len(set))
	for _, sub := range set {
		if sub.Sport == sport {
			out = append(out, sub)
		}
	}
	return out
}

// BySport devolve todas as assinaturas vivas de um esporte
func (r *Registry) BySport(sport string) []*Subscription {
	sport = normalizeSport(sport)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.byID {
		if sub.Sport == sport {
			out = append(out, sub)
		}
	}
	return out
}

// SportCount devolve quantas assinaturas vivas existem para o esporte
func (r *Registry) SportCount(sport string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sports[normalizeSport(sport)]
}

// Len devolve o total de assinaturas vivas
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
