// autopilot — autonomous operations agent for a payment-processing fleet.
package main

import "github.com/payops/autopilot/internal/cli"

func main() {
	cli.Execute()
}
