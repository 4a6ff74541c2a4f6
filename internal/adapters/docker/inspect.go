package docker

import (
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/melih/lighthouse-updater/internal/core/domain"
)

// DetailsFromInspect maps an inspect response to runtime-neutral details.
// The CLI runtime decodes `inspect` output into the same type, so both
// runtimes share this mapping.
func DetailsFromInspect(resp container.InspectResponse) domain.ContainerDetails {
	var details domain.ContainerDetails
	if resp.ContainerJSONBase != nil {
		details.ID = resp.ID
		details.Name = domain.TrimContainerName(resp.Name)
		details.ImageID = resp.Image
		if st := resp.State; st != nil {
			details.Status = string(st.Status)
			details.Running = st.Running
			if st.Health != nil {
				details.Health = string(st.Health.Status)
			}
		}
		if hc := resp.HostConfig; hc != nil {
			details.PortBindings = portBindings(hc.PortBindings)
			details.RestartPolicy = domain.RestartPolicy{
				Name:              string(hc.RestartPolicy.Name),
				MaximumRetryCount: hc.RestartPolicy.MaximumRetryCount,
			}
		}
	}
	if resp.Config != nil {
		// Config.Image is the reference the container was created from;
		// the top level Image is the resolved image id.
		details.Image = resp.Config.Image
		details.Env = append([]string(nil), resp.Config.Env...)
	}
	seen := make(map[string]bool, len(resp.Mounts))
	for _, m := range resp.Mounts {
		seen[m.Destination] = true
		details.Mounts = append(details.Mounts, domain.VolumeMount{
			Type:        string(m.Type),
			Name:        m.Name,
			Source:      m.Source,
			Destination: m.Destination,
			ReadOnly:    !m.RW,
		})
	}
	// --tmpfs mounts are only listed in the host config.
	if resp.ContainerJSONBase != nil && resp.HostConfig != nil {
		details.Mounts = append(details.Mounts, tmpfsMounts(resp.HostConfig.Tmpfs, seen)...)
	}
	return details
}

func tmpfsMounts(tmpfs map[string]string, seen map[string]bool) []domain.VolumeMount {
	dsts := make([]string, 0, len(tmpfs))
	for dst := range tmpfs {
		if !seen[dst] {
			dsts = append(dsts, dst)
		}
	}
	sort.Strings(dsts)

	out := make([]domain.VolumeMount, 0, len(dsts))
	for _, dst := range dsts {
		readOnly := false
		for _, opt := range strings.Split(tmpfs[dst], ",") {
			if opt == "ro" {
				readOnly = true
			}
		}
		out = append(out, domain.VolumeMount{Type: "tmpfs", Destination: dst, ReadOnly: readOnly, Options: tmpfs[dst]})
	}
	return out
}

// portBindings flattens a port map to container port -> host address. Only
// the first binding of each port is kept; an unbound port maps to "".
func portBindings(pm nat.PortMap) map[string]string {
	out := make(map[string]string, len(pm))
	for port, bindings := range pm {
		host := ""
		if len(bindings) > 0 {
			host = bindings[0].HostPort
			if ip := bindings[0].HostIP; ip != "" && ip != "0.0.0.0" && ip != "::" && host != "" {
				host = ip + ":" + host
			}
		}
		out[string(port)] = host
	}
	return out
}

// portSpecs renders bindings in `-p` form, sorted by container port.
func portSpecs(bindings map[string]string) []string {
	ports := make([]string, 0, len(bindings))
	for p := range bindings {
		ports = append(ports, p)
	}
	sort.Strings(ports)

	specs := make([]string, 0, len(ports))
	for _, p := range ports {
		if host := bindings[p]; host != "" {
			specs = append(specs, host+":"+p)
			continue
		}
		specs = append(specs, p)
	}
	return specs
}
