// Command mkfs formats a disk image file with the inode filesystem's
// on-disk layout, the host-side counterpart to fs.FileSystem.Init's
// in-kernel auto-format path. It is grounded on the teacher's own
// mkfs tool concept (biscuit ships a host-side mkfs under
// biscuit/src/mkfs that prepares the disk image QEMU boots from) and
// on original_source's fs_format for the bytes it writes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rvos/internal/fs"
	"rvos/internal/virtioblk"
)

func main() {
	var imagePath string
	var blocks int

	root := &cobra.Command{
		Use:   "mkfs",
		Short: "format a disk image with the rvos inode filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			size := int64(blocks) * fs.BlockSize
			disk, err := virtioblk.OpenHostDisk(imagePath, size)
			if err != nil {
				return fmt.Errorf("mkfs: %w", err)
			}
			defer disk.Close()

			// Clear the superblock so Init always writes a fresh format,
			// even over an image that already holds a filesystem.
			if err := disk.WriteSector(fs.SBBlock, make([]byte, fs.BlockSize)); err != nil {
				return fmt.Errorf("mkfs: %w", err)
			}

			filesystem := fs.New(disk)
			if err := filesystem.Init(); err != nil {
				return fmt.Errorf("mkfs: format: %w", err)
			}
			names, err := filesystem.ListRoot()
			if err != nil {
				return fmt.Errorf("mkfs: verify: %w", err)
			}
			fmt.Printf("formatted %s (%d blocks), root contains: %v\n", imagePath, blocks, names)
			return nil
		},
	}

	root.Flags().StringVarP(&imagePath, "image", "i", "disk.img", "path to the disk image to create/format")
	root.Flags().IntVarP(&blocks, "blocks", "b", fs.NBlocks, "number of 512-byte blocks in the image")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
