package can

import (
	"fmt"
	"sort"

	ftl "github.com/ftsensor/goftl"
)

type NewInterfaceFunc func(channel string) (ftl.Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	interfaceRegistry[interfaceType] = newInterface
}

// Names of all registered interface types, sorted
func AvailableInterfaces() []string {
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create a new CAN bus with given interface
// Interfaces register themselves when their package is imported,
// e.g. socketcan, socketcanv3, virtual, loopback
func NewBus(canInterface string, channel string) (ftl.Bus, error) {
	createInterface, ok := interfaceRegistry[canInterface]
	if !ok {
		return nil, fmt.Errorf("unsupported interface : %v", canInterface)
	}
	return createInterface(channel)
}
