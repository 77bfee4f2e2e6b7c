package exporter

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/storage"
	"expvault/pkg/types"
)

// PrintObject 读取对象并以人类可读的形式输出
// Chunk 这类原始数据只输出大小
func (e *Exporter) PrintObject(ctx context.Context, hash types.Hash, w io.Writer) error {
	data, err := storage.ReadAll(ctx, e.store, hash)
	if err != nil {
		return err
	}
	ok, err := PrintStructure(data, w)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(w, "Type: Chunk (Raw Data)\nSize: %s\n\n", fmtSize(int64(len(data))))
		fmt.Fprintf(w, "(Raw binary data not shown, use 'ev cat --raw' to dump the file)\n")
	}
	return nil
}

// PrintStructure 解析并打印结构化对象
// 原始数据返回 false，由调用者决定如何展示
func PrintStructure(data []byte, w io.Writer) (bool, error) {
	typ, ok := core.PeekType(data)
	if !ok {
		return false, nil
	}

	switch typ {
	case core.TypeCommit:
		return true, printCommit(data, w)
	case core.TypeTree:
		return true, printTree(data, w)
	case core.TypeFileNode:
		return true, printFileNode(data, w)
	case core.TypeManifest:
		return true, printManifest(data, w)
	default:
		return false, nil
	}
}

func printCommit(data []byte, w io.Writer) error {
	c, err := core.DecodeCommit(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:     Commit\n")
	fmt.Fprintf(w, "Hash:     %s\n", c.ID())
	fmt.Fprintf(w, "Author:   %s\n", c.Author)
	if c.Timestamp > 0 {
		fmt.Fprintf(w, "Time:     %s\n", time.Unix(c.Timestamp, 0).Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Tree:     %s\n", c.TreeCid.Hash)
	if c.Manifest != nil {
		fmt.Fprintf(w, "Manifest: %s\n", c.Manifest.Hash)
	}
	for _, p := range c.Parents {
		fmt.Fprintf(w, "Parent:   %s\n", p.Hash)
	}
	fmt.Fprintf(w, "\n%s\n", c.Message)
	return nil
}

func printTree(data []byte, w io.Writer) error {
	t, err := core.DecodeTree(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type: Tree\n\n")
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "TYPE\tHASH\tSIZE\tNAME\n")
	for _, entry := range t.Entries {
		size := "-"
		if entry.Type == core.EntryFile {
			size = fmtSize(entry.Size)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.Type, entry.Cid.Hash.Short(), size, entry.Name)
	}
	return tw.Flush()
}

func printFileNode(data []byte, w io.Writer) error {
	f, err := core.DecodeFileNode(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:      FileNode (ADL)\n")
	fmt.Fprintf(w, "TotalSize: %s\n", fmtSize(f.TotalSize))
	fmt.Fprintf(w, "Chunks:    %d\n", len(f.Chunks))
	return nil
}

func printManifest(data []byte, w io.Writer) error {
	m, err := core.DecodeManifest(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type: Manifest\n\n")
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "STAGE\tKIND\tSTATE\tPATH\n")
	for _, e := range m.Entries {
		state := "ok"
		if e.Stale() {
			state = "stale"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Stage, e.Kind, state, e.Path)
	}
	return tw.Flush()
}

func fmtSize(s int64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
