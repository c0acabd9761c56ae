/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package thumbprint

import (
	"crypto/x509"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/cli/credentials"
	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/thumbprint"
)

func Register() *cobra.Command {
	return &cobra.Command{
		Use:   "thumbprint [certificate file]",
		Short: "print certificate thumbprints",
		Long:  "print the SHA-1 and SHA-256 thumbprints of a certificate, or of the configured client certificate",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cert *x509.Certificate
			if len(args) == 1 {
				var err error
				if cert, err = certstore.LoadCertificate(args[0]); err != nil {
					return err
				}
			} else {
				id, err := credentials.Load().Identity(credentials.TerminalPrompt)
				if err != nil {
					return err
				}
				cert = id.Cert
			}
			Print(os.Stdout, cert)
			return nil
		},
	}
}

// Print writes the subject and thumbprints in allow-list form
func Print(w io.Writer, cert *x509.Certificate) {
	_, _ = fmt.Fprintf(w, "Subject: %s\n", cert.Subject.String())
	_, _ = fmt.Fprintf(w, "Expires: %s\n", cert.NotAfter.Format("2006-01-02"))
	_, _ = fmt.Fprintf(w, "SHA1:    %s\n", thumbprint.SHA1(cert))
	_, _ = fmt.Fprintf(w, "SHA256:  %s\n", thumbprint.SHA256(cert))
}
