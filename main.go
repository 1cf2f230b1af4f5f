// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/furnace-run/furnace/cmd/furnace"

func main() {
	cmd.Execute()
}
