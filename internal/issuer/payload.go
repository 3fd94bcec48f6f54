package issuer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/iliyamo/ticket-mint-reconciler/internal/ledgerhash"
)

const wordSize = 32

// ErrInvalidPayload is wrapped by every payload encoding failure.
var ErrInvalidPayload = errors.New("invalid payload")

var maxWord = new(big.Int).Lsh(big.NewInt(1), 8*wordSize)

// PayloadPrice is one resolved entry of the price list: the token address
// the ledger charges in, the price and the fee, both in the token's smallest
// unit.
type PayloadPrice struct {
	Token string
	Value *big.Int
	Fee   *big.Int
}

// MintPayload is the message signed by an event controller to authorize a
// mint.  It is encoded as a sequence of 32-byte words:
//
//	count of prices
//	for each price: token address, value, fee
//	group id
//	category name (UTF-8, right padded)
//	code
//	expiration (unix seconds)
//
// Identical inputs always encode to identical bytes.
type MintPayload struct {
	Prices       []PayloadPrice
	GroupID      string
	CategoryName string
	Code         string
	Expiration   time.Time
}

// Encode returns the canonical byte encoding of p.
func (p MintPayload) Encode() ([]byte, error) {
	out := make([]byte, 0, wordSize*(5+3*len(p.Prices)))
	out = append(out, uintWord(big.NewInt(int64(len(p.Prices))))...)
	for i, pr := range p.Prices {
		addr, err := hexWord(pr.Token, 20)
		if err != nil {
			return nil, fmt.Errorf("%w: price %d token: %v", ErrInvalidPayload, i, err)
		}
		value, err := amountWord(pr.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: price %d value: %v", ErrInvalidPayload, i, err)
		}
		fee, err := amountWord(pr.Fee)
		if err != nil {
			return nil, fmt.Errorf("%w: price %d fee: %v", ErrInvalidPayload, i, err)
		}
		out = append(out, addr...)
		out = append(out, value...)
		out = append(out, fee...)
	}
	group, err := hexWord(p.GroupID, wordSize)
	if err != nil {
		return nil, fmt.Errorf("%w: group id: %v", ErrInvalidPayload, err)
	}
	name, err := stringWord(p.CategoryName)
	if err != nil {
		return nil, fmt.Errorf("%w: category name: %v", ErrInvalidPayload, err)
	}
	code, err := hexWord(p.Code, wordSize)
	if err != nil {
		return nil, fmt.Errorf("%w: code: %v", ErrInvalidPayload, err)
	}
	if p.Expiration.Unix() < 0 {
		return nil, fmt.Errorf("%w: expiration before epoch", ErrInvalidPayload)
	}
	out = append(out, group...)
	out = append(out, name...)
	out = append(out, code...)
	out = append(out, uintWord(big.NewInt(p.Expiration.Unix()))...)
	return out, nil
}

// Digest returns the keccak-256 of the encoded payload.
func (p MintPayload) Digest() ([]byte, error) {
	enc, err := p.Encode()
	if err != nil {
		return nil, err
	}
	return ledgerhash.Keccak256(enc), nil
}

// ParseAmount parses a base-10 amount.  The empty string is zero.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidPayload, s)
	}
	return n, nil
}

func uintWord(n *big.Int) []byte {
	w := make([]byte, wordSize)
	return n.FillBytes(w)
}

func amountWord(n *big.Int) ([]byte, error) {
	if n == nil {
		return uintWord(new(big.Int)), nil
	}
	if n.Sign() < 0 {
		return nil, errors.New("negative amount")
	}
	if n.Cmp(maxWord) >= 0 {
		return nil, errors.New("amount overflows 256 bits")
	}
	return uintWord(n), nil
}

// hexWord decodes a 0x-prefixed hex string of at most max bytes and left
// pads it to a full word.
func hexWord(s string, max int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) > max {
		return nil, fmt.Errorf("%d bytes, at most %d allowed", len(raw), max)
	}
	w := make([]byte, wordSize)
	copy(w[wordSize-len(raw):], raw)
	return w, nil
}

// stringWord right pads the UTF-8 bytes of s to a full word.
func stringWord(s string) ([]byte, error) {
	if len(s) > wordSize {
		return nil, fmt.Errorf("%d bytes, at most %d allowed", len(s), wordSize)
	}
	w := make([]byte, wordSize)
	copy(w, s)
	return w, nil
}
