package grammar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MarshalBinary produces the deterministic CBOR encoding of the compiled
// grammar.
func (c *CompiledGrammar) MarshalBinary() ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR encoder: %w", err)
	}
	type compiledGrammarAlias CompiledGrammar
	data, err := encMode.Marshal((*compiledGrammarAlias)(c))
	if err != nil {
		return nil, fmt.Errorf("CBOR encoding failed: %w", err)
	}
	return data, nil
}

// UnmarshalBinary decodes a grammar produced by MarshalBinary.
func (c *CompiledGrammar) UnmarshalBinary(data []byte) error {
	type compiledGrammarAlias CompiledGrammar
	return cbor.Unmarshal(data, (*compiledGrammarAlias)(c))
}

// Fingerprint is the hex SHA-256 of the canonical encoding. Equal grammars
// have equal fingerprints.
func (c *CompiledGrammar) Fingerprint() (string, error) {
	data, err := c.MarshalBinary()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
