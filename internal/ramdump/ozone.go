package ramdump

import (
	"bufio"
	"fmt"
	"io"
)

// Ozone writes a J-Link Ozone script whose LoadRam function loads every
// region file back to its address. Region files are referenced by their
// conventional names, relative to the script.
func (img *Image) Ozone(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "void LoadRam (void) {")
	for _, r := range img.Regions {
		fmt.Fprintf(bw, "  Target.LoadMemory(\"%s\",0x%08x);\n", r.FileName(), r.Address)
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
