// internal/sniper/blacklist.go
package sniper

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Blacklist is a set of pool creators to never buy from. It starts from
// the configured file and grows at runtime when a creator's position
// ends in manual intervention.
type Blacklist struct {
	mu   sync.RWMutex
	keys map[solana.PublicKey]struct{}
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{keys: make(map[solana.PublicKey]struct{})}
}

// LoadBlacklist reads one pubkey per line; blank lines and lines
// starting with '#' are skipped. An empty path yields an empty list.
func LoadBlacklist(path string) (*Blacklist, error) {
	list := NewBlacklist()
	if path == "" {
		return list, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blacklist: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, err := solana.PublicKeyFromBase58(text)
		if err != nil {
			return nil, fmt.Errorf("blacklist line %d: %w", line, err)
		}
		list.keys[key] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}
	return list, nil
}

// Add bans a key for the rest of the run.
func (b *Blacklist) Add(key solana.PublicKey) {
	b.mu.Lock()
	b.keys[key] = struct{}{}
	b.mu.Unlock()
}

// Contains reports whether key is blacklisted.
func (b *Blacklist) Contains(key solana.PublicKey) bool {
	b.mu.RLock()
	_, ok := b.keys[key]
	b.mu.RUnlock()
	return ok
}

// Len returns the number of banned keys.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.keys)
}
