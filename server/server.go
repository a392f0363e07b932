// Package server contains misc server utilities.
package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ReplyWithFile replies to the client request by serving the given file name
// from fldr.  Names that would leave fldr are refused.
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	root, err := filepath.Abs(fldr)
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of folder %s %s", fldr, err)
		log.Error(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	filePath := filepath.Join(root, filepath.Clean("/"+fn))
	if !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		http.Error(w, "bad file name", http.StatusBadRequest)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", fn)
		log.Debug(fstr, zap.Error(err))
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		fstr := fmt.Sprintf("not a file %s", fn)
		log.Debug(fstr, zap.Error(err))
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	// read some stuff to set the headers appropriately
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}
