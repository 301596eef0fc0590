package account

import (
	"strings"
	"testing"
)

func TestParseSkipsCommentsAndMalformedLines(t *testing.T) {
	t.Parallel()

	input := `
# fleet batch 3
alice@example.com|hunter2
bob@example.com | s3cret

malformed-no-separator
|missing-id
carol@example.com|
dave@example.com|pass|with|pipes
`
	accounts, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []Account{
		{ID: "alice@example.com", Secret: "hunter2"},
		{ID: "bob@example.com", Secret: "s3cret"},
		{ID: "dave@example.com", Secret: "pass|with|pipes"},
	}
	if len(accounts) != len(want) {
		t.Fatalf("got %d accounts, want %d: %+v", len(accounts), len(want), accounts)
	}
	for i := range want {
		if accounts[i] != want[i] {
			t.Errorf("accounts[%d] = %+v, want %+v", i, accounts[i], want[i])
		}
	}
}

func TestParsePreservesOrder(t *testing.T) {
	t.Parallel()

	accounts, err := Parse(strings.NewReader("z@x.com|1\na@x.com|2\nm@x.com|3\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := IDs(accounts)
	want := []string{"z@x.com", "a@x.com", "m@x.com"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("IDs() = %v, want %v", got, want)
		}
	}
}

func TestByIDFirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	accounts, err := Parse(strings.NewReader("dup@x.com|first\ndup@x.com|second\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	index := ByID(accounts)
	if index["dup@x.com"].Secret != "first" {
		t.Fatalf("expected first occurrence to win, got %q", index["dup@x.com"].Secret)
	}
}
