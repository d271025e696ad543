// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

/*
Package archvfs provides one path-based file API over native directories and
archive containers. A Translator resolves paths, opens seekable streams and
edits the entry tree; archive translators keep changes in a private scratch
area until Save rebuilds the container.

Path rules (summary):
  - "/" and "\" are both separators; a leading separator anchors at root;
  - "." collapses and ".." pops one component, never above the root;
  - trailing separator (or empty text) names a directory;
  - ":" and NUL are rejected, PathOptions.StrictNames rejects more.

# Directories

Open a native directory and work with it through the common API:

	d, err := archvfs.OpenDir("data", archvfs.DirOptions{CreateRoot: true})
	if err != nil {
	    return err
	}
	defer d.Close()

	s, err := d.Create("sub/readme.txt")
	if err != nil {
	    return err
	}
	_, _ = s.Write([]byte("hello"))
	_ = s.Close()

# Archives

ZIP and IMG containers are edited in memory and written back by Save.
Untouched entries are copied without recompression:

	z, err := archvfs.OpenZIP("mod.zip", archvfs.ArchiveOptions{
	    Save: archvfs.SaveOptions{
	        Compress: []pathrules.Rule{
	            {Action: pathrules.ActionInclude, Pattern: "*.txt"},
	        },
	        BackupKeep: 1,
	    },
	})
	if err != nil {
	    return err
	}
	defer z.Close()

	if err := z.Rename("old/name.txt", "new/name.txt"); err != nil {
	    return err
	}
	if err := z.Save(ctx); err != nil {
	    return err
	}

IMG containers are flat and limit names to 24 bytes. Version 1 keeps the
entry table in a sibling ".dir" file; SaveTo always writes version 2:

	m, err := archvfs.OpenIMG("gta3.img", archvfs.ArchiveOptions{ReadOnly: true})
	if err != nil {
	    return err
	}
	defer m.Close()

	err = m.Scan("", "*.txd", false, nil, func(path string) error {
	    fmt.Println(path)
	    return nil
	})

Streams keep their entry locked: Delete, Rename onto, truncation and Save
fail with ErrLocked until every stream of the entry is closed.

# Buffered streams

BufferedStream wraps any readable Stream with one aligned window. Observable
content is identical to direct access:

	bs, err := archvfs.NewBufferedStream(s, archvfs.BufferOptions{
	    WindowSize: 256 * 1024,
	    Alignment:  4096,
	})
	if err != nil {
	    return err
	}
	defer bs.Close()

# Registry

A Registry maps format names, extensions and signatures to constructors.
Build it explicitly:

	reg := archvfs.DefaultRegistry()
	a, err := reg.Open("unknown.bin", archvfs.ArchiveOptions{})
	if errors.Is(err, archvfs.ErrUnknownFormat) {
	    // not an archive
	}

# Export and billy

ExportTree copies a subtree between any two translators; NewBillyFS exposes
a translator as billy.Filesystem:

	res, err := archvfs.ExportTree(ctx, z, "textures", d, "out", archvfs.ExportOptions{
	    Pattern:       "*.paa",
	    SanitizeNames: true,
	})
	fs := archvfs.NewBillyFS(z)
	_, _ = res, fs
*/
package archvfs
