package certhandle

import (
	"encoding/pem"
	"fmt"
)

// decodePEMBlocks splits a file's worth of PEM blocks into their DER
// payloads, regardless of block type — CAChain in particular is a
// concatenation of multiple CERTIFICATE blocks.
func decodePEMBlocks(raw []byte) ([][]byte, error) {
	var out [][]byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		out = append(out, block.Bytes)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no PEM blocks found")
	}
	return out, nil
}
