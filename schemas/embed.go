// Package schemas embeds the wire schemas so servers can validate without a
// checkout of the repository.
package schemas

import "embed"

//go:embed *.schema.json
var FS embed.FS
