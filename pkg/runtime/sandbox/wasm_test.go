package sandbox

// A minimal WebAssembly binary encoder for test fixtures.

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func funcBody(code ...byte) []byte {
	body := append([]byte{0x00}, code...) // no locals
	return append(uleb(uint32(len(body))), body...)
}

var (
	wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	typeVoid   = []byte{0x60, 0x00, 0x00}
	typeI32    = []byte{0x60, 0x01, 0x7f, 0x00}
	typeFdWrit = []byte{0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f}
)

func exportFunc(n string, idx uint32) []byte {
	return cat(name(n), []byte{0x00}, uleb(idx))
}

func importFunc(field string, typeIdx uint32) []byte {
	return cat(name("wasi_snapshot_preview1"), name(field), []byte{0x00}, uleb(typeIdx))
}

// moduleNoop exports a _start that returns immediately.
func moduleNoop() []byte {
	return cat(wasmHeader,
		section(1, vec(typeVoid)),
		section(3, vec(uleb(0))),
		section(7, vec(exportFunc("_start", 0))),
		section(10, vec(funcBody(0x0b))),
	)
}

// moduleLoop spins forever.
func moduleLoop() []byte {
	// loop ; br 0 ; end ; end
	return cat(wasmHeader,
		section(1, vec(typeVoid)),
		section(3, vec(uleb(0))),
		section(7, vec(exportFunc("_start", 0))),
		section(10, vec(funcBody(0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b))),
	)
}

// moduleExit calls proc_exit(code).
func moduleExit(code byte) []byte {
	return cat(wasmHeader,
		section(1, vec(typeI32, typeVoid)),
		section(2, vec(importFunc("proc_exit", 0))),
		section(3, vec(uleb(1))),
		section(7, vec(exportFunc("_start", 1))),
		section(10, vec(funcBody(0x41, code, 0x10, 0x00, 0x0b))),
	)
}

// moduleMemory declares a memory of minPages and does nothing.
func moduleMemory(minPages byte) []byte {
	return cat(wasmHeader,
		section(1, vec(typeVoid)),
		section(3, vec(uleb(0))),
		section(5, vec([]byte{0x00, minPages})),
		section(7, vec(exportFunc("_start", 0))),
		section(10, vec(funcBody(0x0b))),
	)
}

// moduleWrite writes payload to fd (1 stdout, 2 stderr), then exits with code.
// payload must be shorter than 128 bytes.
func moduleWrite(fd byte, payload string, code byte) []byte {
	le32 := func(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }
	// iovec at 0: {buf=16, len=len(payload)}; nwritten at 8; payload at 16.
	mem := cat(le32(16), le32(uint32(len(payload))), le32(0), le32(0), []byte(payload))
	segment := cat([]byte{0x00, 0x41, 0x00, 0x0b}, uleb(uint32(len(mem))), mem)

	body := funcBody(
		0x41, fd, // fd
		0x41, 0x00, // iovs
		0x41, 0x01, // iovs_len
		0x41, 0x08, // nwritten
		0x10, 0x00, // call fd_write
		0x1a,       // drop
		0x41, code, // exit code
		0x10, 0x01, // call proc_exit
		0x0b,
	)
	return cat(wasmHeader,
		section(1, vec(typeFdWrit, typeI32, typeVoid)),
		section(2, vec(importFunc("fd_write", 0), importFunc("proc_exit", 1))),
		section(3, vec(uleb(2))),
		section(5, vec([]byte{0x00, 0x01})),
		section(7, vec(exportFunc("_start", 2), cat(name("memory"), []byte{0x02, 0x00}))),
		section(10, vec(body)),
		section(11, vec(segment)),
	)
}
