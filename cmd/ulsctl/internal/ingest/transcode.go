// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/charmap"
)

// TranscodeToUTF8 decodes src as ISO-8859-1 and writes UTF-8 to src + ".utf8".
//
// Every byte is a valid ISO-8859-1 code point, so decoding cannot fail on
// content; only I/O errors are returned.
func TranscodeToUTF8(src string) (string, error) {
	dst := src + ".utf8"

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}

	bw := bufio.NewWriterSize(out, 1<<20)
	if _, err := io.Copy(bw, charmap.ISO8859_1.NewDecoder().Reader(bufio.NewReaderSize(in, 1<<20))); err != nil {
		out.Close()
		return "", fmt.Errorf("transcode %s: %w", src, err)
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return "", fmt.Errorf("flush %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	return dst, nil
}
