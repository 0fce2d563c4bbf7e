// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/devote"
	"github.com/blinklabs-io/devote/database/plugin"
)

func listAll() string {
	var buf strings.Builder
	buf.WriteString("Available ledger backends:\n")
	for _, entry := range devote.BuiltinBackends() {
		fmt.Fprintf(&buf, "  %s: %s\n", entry.Name, entry.Description)
	}

	buf.WriteString("\nBlob Storage Plugins:\n")
	writePlugins(&buf, plugin.PluginTypeBlob)

	buf.WriteString("\nMetadata Storage Plugins:\n")
	writePlugins(&buf, plugin.PluginTypeMetadata)

	return buf.String()
}

func listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available ledger backends and storage plugins",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(listAll())
		},
	}
	return cmd
}
