package migrate

import "embed"

// Embedded holds the schema migrations under sql/ and the development seeds under seeds/.
//
//go:embed sql/*.sql seeds/*.sql
var Embedded embed.FS
