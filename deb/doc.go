// Package deb builds Debian binary packages and static APT repositories.
//
// # Packages
//
// A Maker streams the entries of one or more Producers into a compressed data
// archive, turns a control directory (control file, maintainer scripts,
// extra control files) into control.tar.gz and wraps both into the ar
// container dpkg expects:
//
//	debian-binary
//	control.tar.gz
//	data.tar.{gz,bz2,xz,zst}
//	_gpgorigin (optional signature)
//
// Control files and maintainer scripts are templated: [[name]] is replaced by
// the value a Resolver returns for name. Unknown names are left as they are.
//
// # Control documents
//
// Document is a schema bound set of fields. The same parser and formatter
// serve the binary control file, .changes files, Packages stanzas and
// Release files.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html
//
// # Repositories
//
// IndexWriter lays out a folder of packages as a pool/ and dists/ tree with
// Packages, Release and, when a Signer is given, InRelease and Release.gpg.
package deb
