package schema

import _ "embed"

// ManifestV1Schema contains the JSON schema for reload-session manifests.
//
//go:embed hupper.v1.json
var ManifestV1Schema []byte
