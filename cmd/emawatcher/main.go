package main

import "ema-price-alerts/internal/cli"

func main() {
	cli.Execute()
}
