// Command latchflowctl is the diagnostic CLI companion to latchflowd: it
// checks deployment health and lets an operator dry-run a permission
// decision against a running server without causing side effects.
package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, factored out of main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "doctor":
		return runDoctor(stdout, stderr)
	case "migrate":
		return runMigrate(args[2:], stdout, stderr)
	case "simulate":
		return runSimulate(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "latchflowctl: unknown subcommand %q\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "latchflowctl - Latchflow diagnostic CLI")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  latchflowctl doctor                 check DB/storage/plugins reachability")
	fmt.Fprintln(w, "  latchflowctl migrate                print migration guidance (no-op)")
	fmt.Fprintln(w, "  latchflowctl simulate <file.json>    dry-run a permission decision via a running server")
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

// runDoctor implements `latchflowctl doctor` — the health checks
// a deployment needs: DB reachable, storage driver configured
// sanely, plug-ins directory readable.
func runDoctor(stdout, stderr io.Writer) int {
	var results []checkResult
	allOK := true

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		results = append(results, checkResult{Name: "database_url", Status: "fail", Detail: "DATABASE_URL not set"})
		allOK = false
	} else if rest, ok := strings.CutPrefix(dbURL, "sqlite:"); ok {
		db, err := sql.Open("sqlite", rest)
		if err != nil {
			results = append(results, checkResult{Name: "database", Status: "fail", Detail: err.Error()})
			allOK = false
		} else {
			defer db.Close()
			if err := db.Ping(); err != nil {
				results = append(results, checkResult{Name: "database", Status: "fail", Detail: err.Error()})
				allOK = false
			} else {
				results = append(results, checkResult{Name: "database", Status: "ok", Detail: "sqlite:" + rest})
			}
		}
	} else {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			results = append(results, checkResult{Name: "database", Status: "fail", Detail: err.Error()})
			allOK = false
		} else {
			defer db.Close()
			if err := db.Ping(); err != nil {
				results = append(results, checkResult{Name: "database", Status: "fail", Detail: err.Error()})
				allOK = false
			} else {
				results = append(results, checkResult{Name: "database", Status: "ok", Detail: "postgres reachable"})
			}
		}
	}

	switch driver := os.Getenv("STORAGE_DRIVER"); driver {
	case "", "local":
		dir := os.Getenv("STORAGE_PREFIX")
		if dir == "" {
			dir = "./data/objects"
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			results = append(results, checkResult{Name: "storage", Status: "fail", Detail: err.Error()})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "storage", Status: "ok", Detail: "local:" + dir})
		}
	case "s3", "gcs":
		if os.Getenv("STORAGE_BUCKET") == "" {
			results = append(results, checkResult{Name: "storage", Status: "fail", Detail: driver + " driver needs STORAGE_BUCKET"})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "storage", Status: "ok", Detail: driver + ":" + os.Getenv("STORAGE_BUCKET")})
		}
	default:
		results = append(results, checkResult{Name: "storage", Status: "fail", Detail: "unknown STORAGE_DRIVER " + driver})
		allOK = false
	}

	if dir := os.Getenv("PLUGINS_PATH"); dir != "" {
		if info, err := os.Stat(dir); err != nil {
			results = append(results, checkResult{Name: "plugins", Status: "warn", Detail: err.Error()})
		} else if !info.IsDir() {
			results = append(results, checkResult{Name: "plugins", Status: "fail", Detail: dir + " is not a directory"})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "plugins", Status: "ok", Detail: dir})
		}
	} else {
		results = append(results, checkResult{Name: "plugins", Status: "warn", Detail: "PLUGINS_PATH not set, hot-reload disabled"})
	}

	fmt.Fprintln(stdout, "Latchflow Doctor")
	fmt.Fprintln(stdout, "----------------")
	for _, r := range results {
		icon := "ok  "
		if r.Status == "warn" {
			icon = "warn"
		} else if r.Status == "fail" {
			icon = "fail"
		}
		fmt.Fprintf(stdout, "  [%s] %-14s %s\n", icon, r.Name, r.Detail)
	}

	if allOK {
		fmt.Fprintln(stdout, "\nAll checks passed.")
		return 0
	}
	fmt.Fprintln(stderr, "\nOne or more checks failed.")
	return 1
}

// runMigrate is an explicit no-op: this binary does not carry database
// schema migration tooling, so this subcommand only reports that and
// exits cleanly rather than silently doing nothing.
func runMigrate(args []string, stdout, stderr io.Writer) int {
	fmt.Fprintln(stdout, "latchflowctl migrate: schema migration is out of scope for this core;")
	fmt.Fprintln(stdout, "apply DDL with your database's native migration tool against DATABASE_URL.")
	return 0
}

// runSimulate posts the permission-simulate request read from a file (or
// stdin if args is empty) to a running server's
// POST /admin/permissions/simulate, exercising the same dry-run endpoint
// admin.Handlers.Simulate serves, without mutating state.
func runSimulate(args []string, stdout, stderr io.Writer) int {
	var body io.Reader
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(stderr, "latchflowctl: %v\n", err)
			return 2
		}
		defer f.Close()
		body = f
	} else {
		body = os.Stdin
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, body); err != nil {
		fmt.Fprintf(stderr, "latchflowctl: read request: %v\n", err)
		return 2
	}

	base := os.Getenv("LATCHFLOW_URL")
	if base == "" {
		base = "http://127.0.0.1:" + envOr("PORT", "3001")
	}
	token := os.Getenv("LATCHFLOW_API_TOKEN")

	req, err := http.NewRequest(http.MethodPost, base+"/admin/permissions/simulate", bytes.NewReader(buf.Bytes()))
	if err != nil {
		fmt.Fprintf(stderr, "latchflowctl: %v\n", err)
		return 2
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "latchflowctl: request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var pretty bytes.Buffer
	respBody, _ := io.ReadAll(resp.Body)
	if json.Indent(&pretty, respBody, "", "  ") == nil {
		fmt.Fprintln(stdout, pretty.String())
	} else {
		fmt.Fprintln(stdout, string(respBody))
	}

	if resp.StatusCode >= 400 {
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
