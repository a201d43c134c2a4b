// generate writes an example configuration file holding every setting at its
// default value, resolved the same way the shipper resolves them.
//
// Usage:
//
//	go run ./tools/config-helper/cmd/generate -o config.example.yaml
//	go run ./tools/config-helper/cmd/generate -config current.yaml -endpoint collector:4317
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/szibis/telemetry-shipper/internal/config"
)

func main() {
	out := flag.String("o", "", "Write to this file instead of stdout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: generate [-o file] [-- shipper flags]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", *out, err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if err := generate(flag.Args(), w); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// generate resolves args as shipper flags and writes the validated result
// as YAML.
func generate(args []string, w io.Writer) error {
	cfg, err := config.Load(args, io.Discard)
	if err != nil {
		return fmt.Errorf("parsing shipper flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if _, err := fmt.Fprintf(w, "# telemetry-shipper %s\n", config.Version()); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
