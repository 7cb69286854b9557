package main

import (
	"strings"
	"testing"
	"time"

	"backtrack/internal/config"
	"backtrack/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func TestParseFlags(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"minimal", []string{"-orders", "orders.json"}, ""},
		{"account", []string{"-orders", "a.json, b.json", "-account", "-initial-balance", "500", "-max-active-orders", "3"}, ""},
		{"missing orders", []string{"-account"}, "-orders is required"},
		{"unknown exchange", []string{"-orders", "o.json", "-exchange", "kraken"}, "unsupported exchange"},
		{"bad balance", []string{"-orders", "o.json", "-initial-balance", "0"}, "-initial-balance"},
		{"bad max active", []string{"-orders", "o.json", "-max-active-orders", "-5"}, "-max-active-orders"},
		{"bad date", []string{"-orders", "o.json", "-from", "yesterday"}, "-from"},
		{"reversed range", []string{"-orders", "o.json", "-from", "2023-06-02", "-to", "2023-06-01"}, "before -from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args, cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(opts.orders) == 0 {
				t.Error("orders not parsed")
			}
		})
	}
}

func TestParseFlags_ListsAndDefaults(t *testing.T) {
	cfg := testConfig(t)

	opts, err := parseFlags([]string{
		"-orders", "a.json,,b.json ",
		"-exchange", "Bybit",
		"-to", "2023-06-15T12:00:00Z",
	}, cfg)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	if len(opts.orders) != 2 || opts.orders[1] != "b.json" {
		t.Errorf("orders = %v", opts.orders)
	}
	if len(opts.exchanges) != 1 || opts.exchanges[0] != "bybit" {
		t.Errorf("exchanges = %v", opts.exchanges)
	}
	if opts.initialBalance != cfg.Backtest.InitialBalance || opts.cacheDir != cfg.Backtest.CacheDir {
		t.Errorf("defaults not applied: %+v", opts)
	}
	if !opts.to.Equal(time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", opts.to)
	}

	opts, err = parseFlags([]string{"-orders", "a.json", "-to", "2023-06-15"}, cfg)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if want := time.Date(2023, 6, 15, 23, 59, 59, 999999999, time.UTC); !opts.to.Equal(want) {
		t.Errorf("date-only -to = %v, want end of day", opts.to)
	}
}

func TestFilterOrders(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2023, 6, d, 10, 0, 0, 0, time.UTC) }
	orders := []models.Order{
		{Coin: "A", Date: day(1), Exchange: "Binance Futures"},
		{Coin: "B", Date: day(5)},
		{Coin: "C", Date: day(9)},
	}

	got := filterOrders(orders, day(2), day(9), "bybit")
	if len(got) != 2 {
		t.Fatalf("got %d orders, want 2", len(got))
	}
	if got[0].Coin != "B" || got[0].Exchange != "bybit" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if orders[1].Exchange != "" {
		t.Error("input orders must not be modified")
	}

	if all := filterOrders(orders, time.Time{}, time.Time{}, "binance"); len(all) != 3 || all[0].Exchange != "Binance Futures" {
		t.Errorf("unbounded filter = %+v", all)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2023-06-15", time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC), false},
		{"2023-06-15T10:30:00+02:00", time.Date(2023, 6, 15, 8, 30, 0, 0, time.UTC), false},
		{"15.06.2023", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
