// Command cockpit-certificate-ensure locates, validates, and if necessary
// reissues the gateway's TLS certificate.
//
// Grounded on original_source/src/tls/cockpit-certificate-ensure.c: the
// three mutually exclusive modes (default, --check, --for-cockpit-tls) and
// their exit codes and stdout messages are carried unchanged.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockpit-project/cockpit-ws-go/internal/certificate"
	"github.com/cockpit-project/cockpit-ws-go/internal/cmdutil"
	fsversion "github.com/cockpit-project/cockpit-ws-go/internal/version"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type ready struct {
	Version             string `json:"version"`
	Commit              string `json:"commit"`
	Date                string `json:"date"`
	CertificateFilename string `json:"certificate_filename"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	dir := cmdutil.EnvString("COCKPIT_WS_CERTIFICATE_DIR", certificate.DefaultSearchDir)

	fs := flag.NewFlagSet("cockpit-certificate-ensure", flag.ContinueOnError)
	fs.SetOutput(stderr)

	showVersion := false
	check := false
	forCockpitTLS := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&dir, "dir", dir, "certificate search directory (env: COCKPIT_WS_CERTIFICATE_DIR)")
	fs.BoolVar(&check, "check", false, "dry run: report whether a certificate would be reissued, without changing anything")
	fs.BoolVar(&forCockpitTLS, "for-cockpit-tls", false, "after ensuring a certificate, publish it under $RUNTIME_DIRECTORY, tolerating merged cert/key files")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, fsversion.String(version, commit, date))
		return 0
	}
	if check && forCockpitTLS {
		fmt.Fprintln(stderr, "--check and --for-cockpit-tls are mutually exclusive")
		fs.Usage()
		return 2
	}

	tolerateMerged := forCockpitTLS
	machineID := readMachineID()
	subject := certificate.DefaultSubject(machineID)

	if check {
		needsReissue, certFilename, err := certificate.Check(dir, tolerateMerged)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		if needsReissue {
			fmt.Fprintln(stdout, "Would create a self-signed certificate")
			return 1
		}
		fmt.Fprintf(stdout, "Would use certificate %s\n", certFilename)
		return 0
	}

	pair, err := certificate.Ensure(dir, subject, tolerateMerged)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if forCockpitTLS {
		runtimeDir := os.Getenv("RUNTIME_DIRECTORY")
		if runtimeDir == "" {
			fmt.Fprintln(stderr, "--for-cockpit-tls cannot be used unless RUNTIME_DIRECTORY is set")
			return 1
		}
		if err := certificate.PublishRuntime(runtimeDir, pair); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:             version,
		Commit:              commit,
		Date:                date,
		CertificateFilename: pair.CertificateFilename,
	})
	return 0
}

// readMachineID mirrors cockpit-certificate-helper's use of /etc/machine-id
// as the self-signed certificate's organization field; an unreadable file
// just yields an empty organization rather than failing the whole command.
func readMachineID() string {
	b, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
