// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/tradukilo"
	"github.com/nlpodyssey/tradukilo/decoder"
	"github.com/nlpodyssey/tradukilo/downloader"
	"github.com/nlpodyssey/tradukilo/nmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	app := &cli.App{
		Name:  "tradukilo",
		Usage: "Translate text with an attention-based recurrent translation model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "set log level (trace, debug, info, warn, error, fatal, panic)",
				Action: func(c *cli.Context, s string) error {
					return setDebugLevel(s)
				},
				Value:   "info",
				EnvVars: []string{"TRADUKILO_LOGLEVEL"},
			},
			&cli.StringFlag{
				Name:     "model-dir",
				Usage:    "directory of the model to operate on",
				Required: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "download",
				Usage: "Download model to directory",
				Action: func(c *cli.Context) error {
					if err := download(c.String("model-dir")); err != nil {
						log.Err(err).Send()
					}
					return nil
				},
			},
			{
				Name:  "convert",
				Usage: "Convert model in directory",
				Action: func(c *cli.Context) error {
					if err := convert(c.String("model-dir")); err != nil {
						log.Fatal().Err(err).Send()
					}
					return nil
				},
			},
			{
				Name:  "translate",
				Usage: "Translate standard input, one sentence per line",
				Action: func(c *cli.Context) error {
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, os.Kill)
					defer stop()

					opts := decoder.SearchOptions{
						BeamSize: c.Int("beam-size"),
						NBest:    c.Int("n-best"),
					}
					if err := translate(ctx, c.String("model-dir"), opts); err != nil {
						log.Err(err).Send()
					}
					return nil
				},
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "beam-size",
						Usage: "number of hypotheses kept alive per sentence",
						Value: 5,
					},
					&cli.IntFlag{
						Name:  "n-best",
						Usage: "number of scored translations printed per sentence",
						Value: 1,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func setDebugLevel(debugLevel string) error {
	level, err := zerolog.ParseLevel(debugLevel)
	if err != nil {
		return err
	}
	log.Logger = log.Level(level)
	return nil
}

func download(modelDir string) error {
	log.Debug().Msgf("Downloading model in dir: %s", modelDir)
	dir, name, err := splitPathAndModelName(modelDir)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	err = downloader.Download(dir, name, false, "")
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	log.Debug().Msg("Done.")
	return nil
}

func convert(modelDir string) error {
	log.Debug().Msgf("Converting model in dir: %s", modelDir)
	err := nmt.ConvertPickledModelToNMT[float32](nmt.ConverterConfig{
		ModelDir:         modelDir,
		OverwriteIfExist: false,
	})
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	log.Debug().Msg("Done.")
	return nil
}

func translate(ctx context.Context, modelDir string, opts decoder.SearchOptions) error {
	log.Debug().Msg("Loading model...")
	tr, err := tradukilo.Load(modelDir)
	if err != nil {
		return err
	}

	var lines []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	if opts.NBest > 1 {
		nBest, err := tr.TranslateNBest(ctx, lines, opts)
		if err != nil {
			return err
		}
		for _, results := range nBest {
			for _, t := range results {
				fmt.Printf("%d ||| %s ||| %f\n", t.LineNum, t.Text, t.Score)
			}
		}
		return nil
	}

	translations, err := tr.Translate(ctx, lines, opts)
	if err != nil {
		return err
	}
	for _, t := range translations {
		fmt.Println(t.Text)
	}
	return nil
}

// splitPathAndModelName separate the models directory from the model name, which format is "organization/model"
func splitPathAndModelName(path string) (string, string, error) {
	dirs := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(dirs) < 3 {
		return "", "", fmt.Errorf("path must have at least three levels of directories")
	}
	lastDir := dirs[len(dirs)-1]
	secondLastDir := dirs[len(dirs)-2]

	pathExceptLastTwo := strings.Join(dirs[:len(dirs)-2], "/")
	return pathExceptLastTwo, filepath.Join(secondLastDir, lastDir), nil
}
