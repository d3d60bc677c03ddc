package hardware

import (
	"sort"
	"strconv"

	"go.bug.st/serial/enumerator"

	"github.com/wfunc/serial-bridge/internal/transport"
)

// SystemEnumerator 通过 go.bug.st/serial/enumerator 枚举系统串口
type SystemEnumerator struct{}

// List 列出系统串口（含USB描述）
func (SystemEnumerator) List() ([]transport.PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]transport.PortInfo, 0, len(details))
	for _, d := range details {
		info := transport.PortInfo{Path: d.Name}
		if d.IsUSB {
			info.USBVendorID = parseUSBID(d.VID)
			info.USBProductID = parseUSBID(d.PID)
			info.SerialNumber = d.SerialNumber
			info.Product = d.Product
		}
		ports = append(ports, info)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Path < ports[j].Path })
	return ports, nil
}

// parseUSBID 解析十六进制的 VID/PID
func parseUSBID(s string) uint16 {
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(id)
}

// StaticEnumerator 固定端口列表，用于模拟模式
type StaticEnumerator struct {
	Ports []transport.PortInfo
}

// List 返回固定列表
func (e StaticEnumerator) List() ([]transport.PortInfo, error) {
	return append([]transport.PortInfo(nil), e.Ports...), nil
}

// matchFilters 按USB过滤条件筛选端口，没有过滤条件时全部保留
func matchFilters(ports []transport.PortInfo, filters []transport.PortFilter) []transport.PortInfo {
	if len(filters) == 0 {
		return ports
	}

	var matched []transport.PortInfo
	for _, p := range ports {
		for _, f := range filters {
			if f.USBVendorID != 0 && f.USBVendorID != p.USBVendorID {
				continue
			}
			if f.USBProductID != 0 && f.USBProductID != p.USBProductID {
				continue
			}
			matched = append(matched, p)
			break
		}
	}
	return matched
}

// validateFilters 校验过滤条件
func validateFilters(filters []transport.PortFilter) error {
	for _, f := range filters {
		if f.USBVendorID == 0 && f.USBProductID == 0 {
			return newDOMError(TypeError, "A filter must provide a property to filter by.", nil)
		}
		if f.USBVendorID == 0 {
			return newDOMError(TypeError, "A filter containing a usbProductId must also specify a usbVendorId.", nil)
		}
	}
	return nil
}
