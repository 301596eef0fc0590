// Package account parses the account source file: one "identifier|secret"
// record per line, ordered. The order matters downstream: the work selector
// uses it as the stable tie-breaker within a priority tier.
package account

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Account is one credential pair from the source file. The secret is
// sensitive: it is never logged and never written to the ledger.
type Account struct {
	ID     string
	Secret string
}

// Load reads the account source file at path.
func Load(path string) ([]Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer f.Close()

	accounts, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no valid accounts in %s", path)
	}
	return accounts, nil
}

// Parse reads "identifier|secret" lines. Blank lines, comment lines and
// lines without a separator are skipped, matching the source file format
// operators already maintain by hand.
func Parse(r io.Reader) ([]Account, error) {
	var accounts []Account
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, secret, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		secret = strings.TrimSpace(secret)
		if id == "" || secret == "" {
			continue
		}
		accounts = append(accounts, Account{ID: id, Secret: secret})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// IDs returns the identifiers in source order.
func IDs(accounts []Account) []string {
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	return ids
}

// ByID indexes accounts by identifier. The first occurrence wins when the
// source contains duplicates.
func ByID(accounts []Account) map[string]Account {
	index := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		if _, exists := index[a.ID]; !exists {
			index[a.ID] = a
		}
	}
	return index
}
