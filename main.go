/*
Copyright 2023 The repostats Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/org-tools/repostats/cmd/missingrepos"
	"github.com/org-tools/repostats/cmd/repostats"
)

var rootCommand = &cobra.Command{
	Use:   "repostats",
	Short: "repostats collects per-repository activity statistics for a GitHub organization.",
}

func run() error {
	rootCommand.AddCommand(repostats.MakeCommand())
	rootCommand.AddCommand(missingrepos.MakeCommand())
	return rootCommand.Execute()
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
