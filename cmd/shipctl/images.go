/*
Copyright 2022 The shipctl Authors.

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
	"github.com/spf13/cobra"

	"github.com/shipctl/shipctl/pkg/driver"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Images imports the locally built images into the node image store.",
	Example: `  # Import all images
  shipctl images

  # Import the api and ui images
  shipctl images --image api --image ui
`,
	RunE: runImagesCmd,
}

var imagesArgs runFlags

func init() {
	imagesCmd.Flags().StringArrayVar(&imagesArgs.images, "image", nil,
		"Distribute only the named image, can be repeated.")
	imagesCmd.Flags().BoolVar(&imagesArgs.force, "force", false,
		"Continue without confirmation when the kube context differs from the expected one.")
	rootCmd.AddCommand(imagesCmd)
}

func runImagesCmd(cmd *cobra.Command, args []string) error {
	return runMode(cmd, driver.ImagesMode, imagesArgs.options())
}
