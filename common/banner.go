//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// See LICENSE file for details
//

package common

import (
	"fmt"
	"io"
	"runtime"
)

// Banner writes the version, copyright, and license notice for console use
func Banner(w io.Writer, program string) {
	_, _ = fmt.Fprintf(w, "%s version %s (build %d, %s %s/%s)\n",
		program, Version, Build, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprint(w, `Copyright 2024-2026 Tenebris Technologies Inc.

License:
  This software is licenced under the Apache License, Version 2.0.
  A copy of the license can be found in the LICENSE file.

Directory inventory agent:
  Requests are accepted only from allow-listed client certificates
  and, unless disabled, must carry a valid signature and nonce.

`)
}
