package manifest

import (
	"fmt"
	"os"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/producer"
)

// Data types.
const (
	DataDirectory = "directory"
	DataFile      = "file"
	DataLink      = "link"
	DataTemplate  = "template"
	DataArchive   = "archive"
	DataFiles     = "files"
	DataManPage   = "manpage"
)

// Data is one source of package content.
type Data struct {
	// Type is directory, file, files, manpage, link, template or archive. It
	// is guessed from the other fields when empty.
	Type string `json:"type" yaml:"type"`
	// Src is the directory, file, man page or archive to read.
	Src string `json:"src" yaml:"src"`
	// Dst is the install path of a file or man page, the path of a link, or
	// the directory receiving files.
	Dst string `json:"dst" yaml:"dst"`
	// Target is the destination of a link.
	Target string `json:"target" yaml:"target"`
	// Symlink selects a symbolic link (default) over a hard link.
	Symlink *bool `json:"symlink" yaml:"symlink"`
	// Paths are the directories of a template, or the sources of files.
	Paths []string `json:"paths" yaml:"paths"`

	Includes            []string `json:"includes" yaml:"includes"`
	Excludes            []string `json:"excludes" yaml:"excludes"`
	KeepDefaultExcludes bool     `json:"keep_default_excludes" yaml:"keep_default_excludes"`
	// Missing is fail (default) or ignore.
	Missing string `json:"missing" yaml:"missing"`
	// Conffile marks every file of this source as a configuration file.
	Conffile bool `json:"conffile" yaml:"conffile"`

	Mapper *Mapper `json:"mapper" yaml:"mapper"`
}

// Mapper rewrites the entries of a data source.
type Mapper struct {
	Prefix   string `json:"prefix" yaml:"prefix"`
	Strip    int    `json:"strip" yaml:"strip"`
	User     string `json:"user" yaml:"user"`
	Group    string `json:"group" yaml:"group"`
	UID      *int   `json:"uid" yaml:"uid"`
	GID      *int   `json:"gid" yaml:"gid"`
	FileMode string `json:"filemode" yaml:"filemode"`
	DirMode  string `json:"dirmode" yaml:"dirmode"`
	// Listing is an "ls -laR" output giving owners and modes per path. It
	// applies before the other attributes.
	Listing string `json:"listing" yaml:"listing"`
}

func (d Data) kind() string {
	switch {
	case d.Type != "":
		return d.Type
	case d.Target != "":
		return DataLink
	case len(d.Paths) > 0:
		return DataTemplate
	}
	return ""
}

// mapper builds the producer.Perm described by m, with templated values.
func (m *Mapper) mapper(r *renderer, name string, resolve func(string) string) (deb.Mapper, error) {
	if m == nil {
		return nil, nil
	}
	perm := producer.NewPerm()
	perm.Prefix = r.str(name+".prefix", m.Prefix)
	perm.Strip = m.Strip
	perm.User = r.str(name+".user", m.User)
	perm.Group = r.str(name+".group", m.Group)
	if m.UID != nil {
		perm.UID = *m.UID
	}
	if m.GID != nil {
		perm.GID = *m.GID
	}
	fileMode := r.str(name+".filemode", m.FileMode)
	dirMode := r.str(name+".dirmode", m.DirMode)
	listing := r.str(name+".listing", m.Listing)
	if r.err != nil {
		return nil, r.err
	}
	var err error
	if perm.FileMode, err = producer.ParseMode(fileMode); err != nil {
		return nil, fmt.Errorf("%s.filemode: %w", name, err)
	}
	if perm.DirMode, err = producer.ParseMode(dirMode); err != nil {
		return nil, fmt.Errorf("%s.dirmode: %w", name, err)
	}
	if listing == "" {
		return perm.Map, nil
	}
	ls, err := readListing(resolve(listing))
	if err != nil {
		return nil, fmt.Errorf("%s.listing: %w", name, err)
	}
	return deb.Chain(ls, perm.Map), nil
}

func readListing(path string) (deb.Mapper, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := producer.Ls(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// producer converts the i-th data source into a deb.Producer.
func (p *Package) producer(i int, d Data) (deb.Producer, error) {
	name := fmt.Sprintf("data[%d]", i)
	r := &renderer{e: p.engine}
	src := p.resolve(r.str(name+".src", d.Src))
	dst := r.str(name+".dst", d.Dst)
	target := r.str(name+".target", d.Target)
	paths := r.list(name+".paths", d.Paths)
	filter := producer.Filter{
		Includes:            r.list(name+".includes", d.Includes),
		Excludes:            r.list(name+".excludes", d.Excludes),
		KeepDefaultExcludes: d.KeepDefaultExcludes,
	}
	if r.err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, r.err)
	}
	mapper, err := d.Mapper.mapper(r, name+".mapper", p.resolve)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	missing, err := producer.ParseMissingPolicy(d.Missing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	switch d.kind() {
	case DataDirectory:
		return &producer.Directory{Dir: src, Filter: filter, Mapper: mapper, Missing: missing}, nil
	case DataFile:
		return &producer.File{Path: src, Destination: dst, Mapper: mapper, Missing: missing}, nil
	case DataFiles:
		return &producer.Files{Paths: paths, Dir: p.resolve("."), Destination: dst, Mapper: mapper, Missing: missing}, nil
	case DataManPage:
		return &producer.ManPage{Path: src, Destination: dst, Mapper: mapper, Missing: missing}, nil
	case DataArchive:
		return &producer.Archive{Path: src, Filter: filter, Mapper: mapper, Missing: missing}, nil
	case DataLink:
		symlink := d.Symlink == nil || *d.Symlink
		return &producer.Link{Path: dst, Target: target, Symlink: symlink, Mapper: mapper}, nil
	case DataTemplate:
		return &producer.PathTemplate{Paths: paths, Mapper: mapper}, nil
	case "":
		return nil, fmt.Errorf("%s: missing type", name)
	}
	return nil, fmt.Errorf("%s: unknown type %q", name, d.Type)
}

// producers returns the data producers and the subset providing conffiles.
func (p *Package) producers() (all, conffiles []deb.Producer, err error) {
	for i, d := range p.Data {
		prod, err := p.producer(i, d)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, prod)
		if d.Conffile {
			conffiles = append(conffiles, prod)
		}
	}
	return all, conffiles, nil
}
