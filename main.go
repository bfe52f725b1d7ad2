package main

import (
	"flag"
	"fmt"
	"os"

	"MRExchange/internal/grep"
	"MRExchange/internal/logger"
	"MRExchange/internal/mapreduce"
	"MRExchange/internal/storage"
	"MRExchange/internal/wordcount"
)

func main() {
	mode := flag.String("mode", "wordcount", "Mode: 'wordcount', 'grep' or 'compare'")
	in := flag.String("in", "", "Input path (local, file://, hdfs://namenode:port/path or azblob://container/blob)")
	out := flag.String("out", "", "Output path; second output for 'compare'")
	threads := flag.Int("threads", 4, "Number of map executions")
	buffer := flag.Int("buffer", 16*mapreduce.DefaultMaxRecordSize, "Exchange buffer size in bytes")
	recordSize := flag.Int("record-size", mapreduce.DefaultMaxRecordSize, "Largest key plus value, in bytes")
	pattern := flag.String("pattern", "", "Regular expression for 'grep'")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error, off")
	flag.Parse()

	log := logger.New(*logLevel)
	if *in == "" || *out == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -mode MODE -in PATH -out PATH [flags]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	router := storage.NewRouter()
	defer router.Close()

	var err error
	switch *mode {
	case "wordcount":
		cfg := wordcount.Config(*threads, *buffer)
		err = run(cfg, *recordSize, log, router, *in, *out)
	case "grep":
		var g *grep.Grep
		g, err = grep.New(*pattern)
		if err == nil {
			err = run(g.Config(*threads, *buffer), *recordSize, log, router, *in, *out)
		}
	case "compare":
		err = compare(router, *in, *out)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}

	if err != nil {
		log.Error("%v", err)
		router.Close()
		os.Exit(1)
	}
}

func run(cfg mapreduce.Config, recordSize int, log *logger.Logger, fs mapreduce.Opener, in, out string) error {
	cfg.MaxRecordSize = recordSize
	cfg.Logger = log

	report, err := mapreduce.Run(cfg, fs, in, out)
	for id, mapErr := range report.MapErrors {
		if mapErr != nil {
			log.Warn("Map %d did not finish cleanly: %v", id, mapErr)
		}
	}
	if err != nil {
		return fmt.Errorf("run %s failed: %w", report.RunID, err)
	}
	log.Info("Run %s done: produced=%d consumed=%d high_water=%d/%d",
		report.RunID, report.Stats.Produced, report.Stats.Consumed,
		report.Stats.HighWater, report.Stats.Capacity)
	return nil
}

func compare(fs storage.Client, a, b string) error {
	ra, err := fs.OpenReadCloser(a)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a, err)
	}
	defer ra.Close()
	rb, err := fs.OpenReadCloser(b)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", b, err)
	}
	defer rb.Close()

	diff, err := wordcount.Compare(ra, rb)
	if err != nil {
		return err
	}
	if err := diff.Write(os.Stdout, a, b); err != nil {
		return err
	}
	if !diff.Equal() {
		return fmt.Errorf("%s and %s differ", a, b)
	}
	return nil
}
