package config

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Environment overrides.
const (
	EnvTarget   = "CDM_TARGET"
	EnvRegistry = "CONTRACTS_REGISTRY_ADDR"
	EnvLogLevel = "CDM_LOG_LEVEL"
)

// Target is a resolved release target.
type Target struct {
	Name string
	TargetConfig
}

// Local reports whether the target runs against the in-process backend.
func (t Target) Local() bool {
	return t.Name == "local"
}

// Hash identifies the target by its endpoints and registry: the first eight
// bytes of blake2b-256 over "assethub\nipfs_gateway\nregistry", in hex.
func (t Target) Hash() string {
	sum := blake2b.Sum256([]byte(t.AssetHub + "\n" + t.IPFSGateway + "\n" + t.Registry))
	return hex.EncodeToString(sum[:8])
}

var presets = map[string]TargetConfig{
	"polkadot": {
		AssetHub:    "wss://polkadot-asset-hub-rpc.polkadot.io",
		Bulletin:    "wss://polkadot-bulletin-rpc.polkadot.io",
		IPFSGateway: "https://polkadot-bulletin-rpc.polkadot.io/ipfs",
	},
	"paseo": {
		AssetHub:    "wss://asset-hub-paseo-rpc.n.dwellir.com",
		Bulletin:    "wss://previewnet.substrate.dev/bulletin",
		IPFSGateway: "https://previewnet.substrate.dev/ipfs",
		Registry:    "0x21fa63bfac2a77b1a6de8bd9a0c2c172a48bb5e3",
	},
	"preview-net": {
		AssetHub:    "wss://previewnet.substrate.dev/asset-hub",
		Bulletin:    "wss://previewnet.substrate.dev/bulletin",
		IPFSGateway: "https://previewnet.substrate.dev/ipfs",
		Registry:    "0x2c6fc00458f198f46ef072e1516b83cd56db7cf5",
	},
	"local": {
		AssetHub:    "ws://127.0.0.1:10020",
		Bulletin:    "ws://127.0.0.1:10030",
		IPFSGateway: "http://127.0.0.1:8283/ipfs",
	},
}
