package memory_map

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadProcMaps reads and parses a maps file such as /proc/[pid]/maps
func ReadProcMaps(path string) ([]MemoryMapItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseProcMaps(file)
}

// ParseProcMaps parses the /proc/[pid]/maps text format. The result is
// sorted by address.
func ParseProcMaps(r io.Reader) ([]MemoryMapItem, error) {
	var memoryMap []MemoryMapItem
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// 00400000-0040b000 r-xp 00000000 08:01 1234  /usr/bin/cat
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}

		addrRange := strings.Split(fields[0], "-")
		if len(addrRange) != 2 {
			continue
		}

		startAddr, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}

		endAddr, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil || endAddr < startAddr {
			continue
		}

		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}

		item := MemoryMapItem{
			Address: startAddr,
			Size:    endAddr - startAddr,
			Perms:   fields[1],
			Offset:  offset,
		}
		if len(fields) > 5 {
			// paths may contain spaces
			item.Path = strings.Join(fields[5:], " ")
		}
		memoryMap = append(memoryMap, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	Sort(memoryMap)
	return memoryMap, nil
}
