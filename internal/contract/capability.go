package contract

import (
	"bytes"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

// Operation is a logical contract operation resolved to a concrete method by name.
type Operation string

const (
	OpMint        Operation = "mint"
	OpPrice       Operation = "price"
	OpTotalSupply Operation = "totalSupply"
	OpMaxSupply   Operation = "maxSupply"
	OpMaxPerMint  Operation = "maxPerMint"
	OpSubmitScore Operation = "submitScore"
	OpProInsight  Operation = "proInsight"
)

var (
	ErrCapabilityNotFound      = errors.New("contract capability not found")
	ErrCapabilityMisconfigured = errors.New("configured contract method not present in the ABI")
)

// variants lists the method names contracts historically use for each operation, in preference order.
var variants = map[Operation][]string{
	OpMint:        {"mint", "publicMint", "mintNFTs", "mintPublic", "mintSale"},
	OpPrice:       {"price", "cost", "public_sale_price", "getPrice", "salePrice"},
	OpTotalSupply: {"totalSupply"},
	OpMaxSupply:   {"maxSupply", "MAX_SUPPLY"},
	OpMaxPerMint:  {"maxPerMint", "maxMintAmount", "MAX_TOKENS_PER_MINT"},
	OpSubmitScore: {"submitScore"},
	OpProInsight:  {"proinsight"},
}

// ParseABI decodes a JSON ABI document.
func ParseABI(data []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "parse contract abi")
	}
	return parsed, nil
}

// Resolver maps operations onto the methods of one bound ABI.
type Resolver struct {
	abi       abi.ABI
	overrides map[Operation]string
}

// NewResolver binds overrides, keyed by operation name, to contractABI.
func NewResolver(contractABI abi.ABI, overrides map[string]string) *Resolver {
	r := &Resolver{abi: contractABI, overrides: make(map[Operation]string, len(overrides))}
	for op, name := range overrides {
		if name != "" {
			r.overrides[Operation(op)] = name
		}
	}
	return r
}

// HasOverride reports whether op has a configured method name.
func (r *Resolver) HasOverride(op Operation) bool {
	_, ok := r.overrides[op]
	return ok
}

// Resolve returns the method for op. A configured override that the ABI lacks is
// ErrCapabilityMisconfigured. For price, a single argumentless view whose name mentions
// price or cost is used directly; several such methods could pick a presale price, so
// the variant list decides instead.
func (r *Resolver) Resolve(op Operation) (*abi.Method, error) {
	if name, ok := r.overrides[op]; ok {
		if m, ok := r.abi.Methods[name]; ok {
			log.Debugf("contract - using configured %v method %v", op, name)
			return &m, nil
		}
		return nil, errors.Wrapf(ErrCapabilityMisconfigured, "%v method %q", op, name)
	}
	if op == OpPrice {
		if m := r.detectPrice(); m != nil {
			log.Debugf("contract - price method auto-detected as %v", m.Name)
			return m, nil
		}
	}
	for _, variant := range variants[op] {
		if m := r.byName(variant); m != nil {
			return m, nil
		}
	}
	return nil, errors.Wrapf(ErrCapabilityNotFound, "%v", op)
}

func (r *Resolver) detectPrice() *abi.Method {
	var matches []abi.Method
	for _, m := range r.abi.Methods {
		name := strings.ToLower(m.RawName)
		if len(m.Inputs) == 0 && (strings.Contains(name, "price") || strings.Contains(name, "cost")) {
			matches = append(matches, m)
		}
	}
	if len(matches) != 1 {
		if len(matches) > 1 {
			log.Debugf("contract - %d price candidates, falling back to known names", len(matches))
		}
		return nil
	}
	return &matches[0]
}

// byName matches a method case-insensitively, an exact match wins.
func (r *Resolver) byName(name string) *abi.Method {
	if m, ok := r.abi.Methods[name]; ok {
		return &m
	}
	keys := make([]string, 0, len(r.abi.Methods))
	for k := range r.abi.Methods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := r.abi.Methods[k]
		if strings.EqualFold(m.RawName, name) {
			return &m
		}
	}
	return nil
}
