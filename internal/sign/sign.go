// Package sign builds the canonical text a user signs over, derives
// function ids from it, and verifies Bitcoin-style signatures against the
// signer's address.
package sign

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"swapsequencer/internal/decimal"
	"swapsequencer/internal/model"
)

// CommitHeader is the commit-level context a function id commits to.
type CommitHeader struct {
	Module   string
	Parent   string
	Quit     string
	GasPrice string
}

// FuncID derives the id of a function: sha256 over the canonical id text,
// displayed byte-reversed like a transaction id.
func FuncID(header CommitHeader, f *model.InternalFunc, prevs []string) string {
	var b strings.Builder
	b.WriteString("module: ")
	b.WriteString(header.Module)
	b.WriteString("\nparent: ")
	b.WriteString(header.Parent)
	b.WriteString("\nquit: ")
	b.WriteString(header.Quit)
	b.WriteString("\ngas_price: ")
	b.WriteString(header.GasPrice)
	b.WriteString("\nprevs: ")
	b.WriteString(strings.Join(prevs, " "))
	b.WriteString("\naddr: ")
	b.WriteString(f.Addr)
	b.WriteString("\nfunc: ")
	b.WriteString(string(f.Kind))
	b.WriteString("\nparams: ")
	b.WriteString(joinParams(f.Params))
	b.WriteString("\nts: ")
	b.WriteString(strconv.FormatInt(f.TS, 10))

	sum := sha256.Sum256([]byte(b.String()))
	reverse(sum[:])
	return hex.EncodeToString(sum[:])
}

// SignText builds the message one address signs: the id/addr/func/params/ts
// lines of every prior same-address function in the commit, then the
// current one. Order matters; the signature breaks if any entry moves.
func SignText(funcs []*model.InternalFunc) string {
	var b strings.Builder
	for _, f := range funcs {
		b.WriteString("id: ")
		b.WriteString(f.ID)
		b.WriteString("\naddr: ")
		b.WriteString(f.Addr)
		b.WriteString("\nfunc: ")
		b.WriteString(string(f.Kind))
		b.WriteString("\nparams: ")
		b.WriteString(joinParams(f.Params))
		b.WriteString("\nts: ")
		b.WriteString(strconv.FormatInt(f.TS, 10))
		b.WriteString("\n")
	}
	return b.String()
}

// ContentHash fingerprints a request's intent for commit-scoped
// deduplication.
func ContentHash(f *model.InternalFunc) string {
	text := f.Addr + "|" + string(f.Kind) + "|" + joinParams(f.Params) + "|" + strconv.FormatInt(f.TS, 10)
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// joinParams space-joins params with numeric values normalized, so
// "10.0" signs identically to "10".
func joinParams(params []string) string {
	normalized := make([]string, len(params))
	for i, p := range params {
		normalized[i] = decimal.Normalize(p)
	}
	return strings.Join(normalized, " ")
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
