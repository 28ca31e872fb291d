package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func getCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	var at, face *string
	if name == "boxes" {
		at = fs.String("at", "", "only the box at x,y,z")
		face = fs.String("face", "", "with -at: the neighbour on this face (LEFT..BACK)")
	}
	_ = fs.Parse(args)
	u := adminURL(*baseURL, name)
	if at != nil {
		u += boxesQuery(*at, *face)
	}
	os.Exit(adminRequest(http.MethodGet, u, os.Stdout))
}

func boxesQuery(at, face string) string {
	q := url.Values{}
	if s := strings.TrimSpace(at); s != "" {
		q.Set("at", s)
	}
	if s := strings.TrimSpace(face); s != "" {
		q.Set("face", s)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func invariantsCmd(args []string) {
	fs := flag.NewFlagSet("invariants", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	os.Exit(adminRequest(http.MethodPost, adminURL(*baseURL, "invariants"), os.Stdout))
}

func adminURL(base, name string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/admin/v1/" + name
}

// adminRequest prints the response body and returns a process exit code.
func adminRequest(method, u string, out io.Writer) int {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
