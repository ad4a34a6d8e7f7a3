package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store guarda no Redis quais saídas (IP/proxy) foram bloqueadas pelo provedor,
// para que nenhum worker volte a usá-las antes do fim da quarentena.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore cria o store. Se ttl for 0, usa 1 hora.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(egress string) string {
	if egress == "" {
		egress = "direct"
	}
	return fmt.Sprintf("argus:lockout:%s", egress)
}

// Mark registra o bloqueio da saída com o texto exibido pelo provedor.
func (s *Store) Mark(ctx context.Context, egress, reason string) error {
	return s.rdb.Set(ctx, key(egress), reason, s.ttl).Err()
}

// Active retorna true se a saída ainda está em quarentena.
func (s *Store) Active(ctx context.Context, egress string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key(egress)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remaining devolve quanto falta para a quarentena expirar (0 se não houver).
func (s *Store) Remaining(ctx context.Context, egress string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, key(egress)).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
