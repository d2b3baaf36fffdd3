package main

import (
	"flag"
	"log"

	"github.com/danmuck/serialplot/internal/config"
)

func main() {
	kind := flag.String("kind", config.KindServer, "config kind: server|client")
	output := flag.String("output", "", "output path for config template (.toml, .yaml or .yml)")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	defaultPath := func() string {
		switch *kind {
		case config.KindServer:
			return "cmd/plotterd/config.toml"
		case config.KindClient:
			return "cmd/plotterctl/config.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
			return ""
		}
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath()
		}
		switch *kind {
		case config.KindServer:
			if _, err := config.LoadServerConfig(path); err != nil {
				log.Fatal(err)
			}
		case config.KindClient:
			if _, err := config.LoadClientConfig(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath()
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
