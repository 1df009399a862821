package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"
)

func cacheCommand() *cli.Command {
	addrFlag := &cli.StringFlag{Name: "addr", Value: "127.0.0.1:8686", Usage: "address of a running bbuctl serve instance"}
	return &cli.Command{
		Name:  "cache",
		Usage: "inspect and control a running cache instance over its status API",
		Subcommands: []*cli.Command{
			{
				Name:   "get",
				Usage:  "print one or all config surface fields",
				Flags:  []cli.Flag{addrFlag},
				Action: cacheGetAction,
			},
			{
				Name:      "set",
				Usage:     "write one config surface field",
				ArgsUsage: "<field> <value>",
				Flags:     []cli.Flag{addrFlag},
				Action:    cacheSetAction,
			},
			{
				Name:   "flush",
				Usage:  "force a barrier flush of every dirty entry back to the backing device (equivalent to `set flush 1`)",
				Flags:  []cli.Flag{addrFlag},
				Action: func(ctx *cli.Context) error { return doSet(ctx.String("addr"), "flush", "1") },
			},
			{
				Name:   "deactivate",
				Usage:  "deactivate the cache (equivalent to `set state delete`)",
				Flags:  []cli.Flag{addrFlag},
				Action: func(ctx *cli.Context) error { return doSet(ctx.String("addr"), "state", "delete") },
			},
		},
	}
}

func cacheGetAction(ctx *cli.Context) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/status", ctx.String("addr")))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bbuctl cache get: %s", body)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if field := ctx.Args().First(); field != "" {
		v, ok := out[field]
		if !ok {
			return fmt.Errorf("bbuctl cache get: no such field %q", field)
		}
		fmt.Println(v)
		return nil
	}
	for k, v := range out {
		fmt.Printf("%s=%s\n", k, v)
	}
	return nil
}

func cacheSetAction(ctx *cli.Context) error {
	if ctx.Args().Len() != 2 {
		return fmt.Errorf("bbuctl cache set: expected <field> <value>")
	}
	return doSet(ctx.String("addr"), ctx.Args().Get(0), ctx.Args().Get(1))
}

func doSet(addr, field, value string) error {
	u := fmt.Sprintf("http://%s/set?field=%s&value=%s", addr, url.QueryEscape(field), url.QueryEscape(value))
	resp, err := http.Post(u, "application/x-www-form-urlencoded", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bbuctl cache set: %s", body)
	}
	return nil
}
